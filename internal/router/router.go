// Package router wires the HTTP surface: the HTML pages of the original
// application, the JSON shortening API, the redirect path, and the
// operational endpoints (ping, internal stats, QR codes).
package router

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"shortly/internal/gzippedhttp"
	"shortly/internal/ipchecker"
	"shortly/internal/logger"
	"shortly/internal/models"
	"shortly/internal/session"
)

//go:embed templates/*.html
var templateFiles embed.FS

const qrImageSize = 256

type credentialStore interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

type urlDirectory interface {
	FindOrCreate(ctx context.Context, ownerID int, longURL string) (string, bool, error)
	Resolve(ctx context.Context, code string) (string, error)
	ListForOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error)
	ShortenBatch(
		ctx context.Context,
		ownerID int,
		request models.BatchShortenRequest,
		shortURLFormatter func(string) string,
	) (models.BatchShortenResponse, error)
}

type sessionManager interface {
	LogIn(response http.ResponseWriter, usr *models.User) error
	LogOut(response http.ResponseWriter)
	RequireUser(h http.Handler) http.Handler
	RequireUserAPI(h http.Handler) http.Handler
}

type statsKeeper interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)
	GetNumberOfMappings(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Router holds the collaborators of the HTTP handlers.
type Router struct {
	users        credentialStore
	directory    urlDirectory
	sessions     sessionManager
	stats        statsKeeper
	pinger       pinger
	ipChecker    *ipchecker.IPChecker
	shortURLBase string
	templates    *template.Template
	validate     *validator.Validate
}

// New builds the chi router with all routes and middleware attached.
func New(
	users credentialStore,
	directory urlDirectory,
	sessions sessionManager,
	stats statsKeeper,
	pinger pinger,
	ipChecker *ipchecker.IPChecker,
	shortURLBase string,
) (http.Handler, error) {
	templates, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}

	r := &Router{
		users:        users,
		directory:    directory,
		sessions:     sessions,
		stats:        stats,
		pinger:       pinger,
		ipChecker:    ipChecker,
		shortURLBase: shortURLBase,
		templates:    templates,
		validate:     validator.New(),
	}

	router := chi.NewRouter()
	router.Use(logger.WithLoggingHTTPMiddleware)
	router.Use(gzippedhttp.UngzipRequest)
	router.Use(gzippedhttp.GzipResponse)

	router.Get(`/signup`, r.getSignup)
	router.Post(`/signup`, r.postSignup)
	router.Get(`/login`, r.getLogin)
	router.Post(`/login`, r.postLogin)
	router.Get(`/ping`, r.getPing)
	router.Get(`/api/internal/stats`, r.getStats)

	router.Group(func(authenticated chi.Router) {
		authenticated.Use(r.sessions.RequireUser)
		authenticated.Get(`/`, r.getHome)
		authenticated.Post(`/`, r.postHome)
		authenticated.Get(`/logout`, r.getLogout)
		authenticated.Get(`/display/{code}`, r.getDisplayShortURL)
		authenticated.Get(`/all_urls`, r.getAllURLs)
	})

	router.Group(func(api chi.Router) {
		api.Use(r.sessions.RequireUserAPI)
		api.Post(`/api/shorten`, r.postAPIShorten)
		api.Post(`/api/shorten/batch`, r.postAPIShortenBatch)
		api.Get(`/api/user/urls`, r.getAPIUserURLs)
	})

	router.Get(`/{short}`, r.getRedirectToFullURL)
	router.Get(`/{short}/qr`, r.getQRCode)

	return router, nil
}

func (r *Router) shortURL(code string) string {
	return r.shortURLBase + "/" + code
}

func (r *Router) renderPage(response http.ResponseWriter, status int, page string, data any) {
	response.Header().Set("Content-Type", "text/html; charset=utf-8")
	response.WriteHeader(status)
	if err := r.templates.ExecuteTemplate(response, page, data); err != nil {
		logger.Log.Debugln("Error calling the `r.templates.ExecuteTemplate()`: ", zap.Error(err))
	}
}

type formPage struct {
	Username string
	Message  string
}

func (r *Router) getSignup(response http.ResponseWriter, request *http.Request) {
	r.renderPage(response, http.StatusOK, "signup.html", formPage{})
}

func (r *Router) postSignup(response http.ResponseWriter, request *http.Request) {
	username := request.FormValue("username")
	password := request.FormValue("password")

	usr, err := r.users.Register(request.Context(), username, password)
	if err != nil {
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrUsernameTaken) {
			r.renderPage(response, http.StatusOK, "signup.html", formPage{
				Username: username,
				Message:  userFacingMessage(err),
			})
			return
		}
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := r.sessions.LogIn(response, usr); err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	http.Redirect(response, request, "/", http.StatusFound)
}

func (r *Router) getLogin(response http.ResponseWriter, request *http.Request) {
	r.renderPage(response, http.StatusOK, "login.html", formPage{})
}

func (r *Router) postLogin(response http.ResponseWriter, request *http.Request) {
	username := request.FormValue("username")
	password := request.FormValue("password")

	usr, err := r.users.Authenticate(request.Context(), username, password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			r.renderPage(response, http.StatusOK, "login.html", formPage{
				Username: username,
				Message:  "Invalid username or password.",
			})
			return
		}
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := r.sessions.LogIn(response, usr); err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	http.Redirect(response, request, "/", http.StatusFound)
}

func (r *Router) getLogout(response http.ResponseWriter, request *http.Request) {
	r.sessions.LogOut(response)
	http.Redirect(response, request, "/login", http.StatusFound)
}

type urlsPage struct {
	Username string
	Urls     []models.UserURL
	Message  string
}

func (r *Router) currentUserOr500(response http.ResponseWriter, request *http.Request) (*models.User, bool) {
	usr, ok := session.UserFromContext(request.Context())
	if !ok {
		response.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	return usr, true
}

func (r *Router) ownerURLs(request *http.Request, ownerID int) ([]models.UserURL, error) {
	mappings, err := r.directory.ListForOwner(request.Context(), ownerID)
	if err != nil {
		return nil, err
	}

	result := make([]models.UserURL, 0, len(mappings))
	for _, mapping := range mappings {
		result = append(result, models.UserURL{
			ShortURL:    r.shortURL(mapping.ShortCode),
			OriginalURL: mapping.LongURL,
		})
	}

	return result, nil
}

func (r *Router) getHome(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	urls, err := r.ownerURLs(request, usr.ID)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	r.renderPage(response, http.StatusOK, "url_page.html", urlsPage{
		Username: usr.Username,
		Urls:     urls,
	})
}

func (r *Router) postHome(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	longURL := request.FormValue("nm")
	if longURL == "" {
		urls, err := r.ownerURLs(request, usr.ID)
		if err != nil {
			response.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.renderPage(response, http.StatusOK, "url_page.html", urlsPage{
			Username: usr.Username,
			Urls:     urls,
			Message:  "Please enter a URL to shorten.",
		})
		return
	}

	code, _, err := r.directory.FindOrCreate(request.Context(), usr.ID, longURL)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	http.Redirect(response, request, "/display/"+code, http.StatusFound)
}

func (r *Router) getRedirectToFullURL(response http.ResponseWriter, request *http.Request) {
	short := chi.URLParam(request, "short")

	longURL, err := r.directory.Resolve(request.Context(), short)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.renderPage(response, http.StatusNotFound, "notfound.html", nil)
			return
		}
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	http.Redirect(response, request, longURL, http.StatusTemporaryRedirect)
}

type shortURLPage struct {
	Username     string
	ShortCode    string
	FullShortURL string
}

func (r *Router) getDisplayShortURL(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	code := chi.URLParam(request, "code")
	r.renderPage(response, http.StatusOK, "shorturl.html", shortURLPage{
		Username:     usr.Username,
		ShortCode:    code,
		FullShortURL: r.shortURL(code),
	})
}

func (r *Router) getAllURLs(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	urls, err := r.ownerURLs(request, usr.ID)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	r.renderPage(response, http.StatusOK, "all_urls.html", urlsPage{
		Username: usr.Username,
		Urls:     urls,
	})
}

func (r *Router) getQRCode(response http.ResponseWriter, request *http.Request) {
	short := chi.URLParam(request, "short")

	_, err := r.directory.Resolve(request.Context(), short)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.WriteHeader(http.StatusNotFound)
			return
		}
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	png, err := qrcode.Encode(r.shortURL(short), qrcode.Medium, qrImageSize)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	response.Header().Set("Content-Type", "image/png")
	response.WriteHeader(http.StatusOK)
	if _, err := response.Write(png); err != nil {
		logger.Log.Debugln("Error writing the QR code response: ", zap.Error(err))
	}
}

func writeJSON(response http.ResponseWriter, status int, payload any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(payload); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder().Encode()`: ", zap.Error(err))
	}
}

func (r *Router) postAPIShorten(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	var shortenRequest models.ShortenRequest
	if err := json.NewDecoder(request.Body).Decode(&shortenRequest); err != nil {
		response.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := r.validate.Struct(shortenRequest); err != nil {
		response.WriteHeader(http.StatusBadRequest)
		return
	}

	code, created, err := r.directory.FindOrCreate(request.Context(), usr.ID, shortenRequest.URL)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusConflict
	}

	writeJSON(response, status, models.ShortenResponse{Result: r.shortURL(code)})
}

func (r *Router) postAPIShortenBatch(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	var batchRequest models.BatchShortenRequest
	if err := json.NewDecoder(request.Body).Decode(&batchRequest); err != nil {
		response.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, item := range batchRequest {
		if err := r.validate.Struct(item); err != nil {
			response.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	batchResponse, err := r.directory.ShortenBatch(request.Context(), usr.ID, batchRequest, r.shortURL)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(response, http.StatusCreated, batchResponse)
}

func (r *Router) getAPIUserURLs(response http.ResponseWriter, request *http.Request) {
	usr, ok := r.currentUserOr500(response, request)
	if !ok {
		return
	}

	urls, err := r.ownerURLs(request, usr.ID)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	if len(urls) == 0 {
		response.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(response, http.StatusOK, urls)
}

func (r *Router) getPing(response http.ResponseWriter, request *http.Request) {
	if err := r.pinger.Ping(request.Context()); err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.WriteHeader(http.StatusOK)
}

func (r *Router) getStats(response http.ResponseWriter, request *http.Request) {
	if r.ipChecker.IsTrustedSubnetEmpty() {
		response.WriteHeader(http.StatusForbidden)
		return
	}

	clientIP, err := r.ipChecker.GetClientIP(request)
	if err != nil || !r.ipChecker.Check(clientIP) {
		response.WriteHeader(http.StatusForbidden)
		return
	}

	usersCount, err := r.stats.GetNumberOfUsers(request.Context())
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	urlsCount, err := r.stats.GetNumberOfMappings(request.Context())
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(response, http.StatusOK, models.Stats{
		Urls:  urlsCount,
		Users: usersCount,
	})
}

func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrUsernameTaken):
		return "This username already exists. Please choose another."
	case errors.Is(err, models.ErrValidation):
		detail := strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
		if detail == "" || detail == err.Error() {
			return "Invalid input."
		}
		return strings.ToUpper(detail[:1]) + detail[1:]
	default:
		return "Something went wrong."
	}
}
