package router_test

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortly/internal/db/memorystorage"
	"shortly/internal/directory"
	"shortly/internal/ipchecker"
	"shortly/internal/logger"
	"shortly/internal/models"
	"shortly/internal/router"
	"shortly/internal/session"
	"shortly/internal/users"
)

const (
	testShortURLBase  = "http://localhost:8080"
	testTrustedSubnet = "192.168.1.0/24"
)

var displayPathPattern = regexp.MustCompile(`^/display/([a-zA-Z]{6})$`)

func TestMain(m *testing.M) {
	if err := logger.Init("debug"); err != nil {
		panic(err)
	}
	m.Run()
}

func newTestServer(t *testing.T) (*httptest.Server, *memorystorage.MemoryStorage) {
	t.Helper()

	db, err := memorystorage.New()
	require.NoError(t, err)

	credentials := users.New(db)
	urlDirectory := directory.New(db)
	sessions := session.New(credentials, "shortly_session", []byte("test-secret"))

	ipChecker, err := ipchecker.New(testTrustedSubnet)
	require.NoError(t, err)

	handler, err := router.New(
		credentials,
		urlDirectory,
		sessions,
		db,
		db,
		ipChecker,
		testShortURLBase,
	)
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server, db
}

// noRedirectClient returns an http.Client that surfaces redirects instead
// of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func signUp(t *testing.T, server *httptest.Server, username, password string) *http.Cookie {
	t.Helper()

	response, err := noRedirectClient().PostForm(server.URL+"/signup", url.Values{
		"username": {username},
		"password": {password},
	})
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusFound, response.StatusCode)
	require.Equal(t, "/", response.Header.Get("Location"))

	for _, cookie := range response.Cookies() {
		if cookie.Name == "shortly_session" {
			return cookie
		}
	}
	t.Fatal("signup response is missing the session cookie")
	return nil
}

func readBody(t *testing.T, response *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return string(body)
}

func TestSignupLoginAndShorteningFlow(t *testing.T) {
	server, _ := newTestServer(t)
	client := noRedirectClient()

	sessionCookie := signUp(t, server, "alice123", "pw")

	// The home page is reachable with the session cookie.
	homeRequest, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)
	homeRequest.AddCookie(sessionCookie)

	homeResponse, err := client.Do(homeRequest)
	require.NoError(t, err)
	body := readBody(t, homeResponse)
	homeResponse.Body.Close()
	assert.Equal(t, http.StatusOK, homeResponse.StatusCode)
	assert.Contains(t, body, "alice123")

	// Submitting a long URL redirects to its display page.
	submit := func() string {
		form := url.Values{"nm": {"https://example.com"}}
		request, err := http.NewRequest(
			http.MethodPost,
			server.URL+"/",
			strings.NewReader(form.Encode()),
		)
		require.NoError(t, err)
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		request.AddCookie(sessionCookie)

		response, err := client.Do(request)
		require.NoError(t, err)
		defer response.Body.Close()

		require.Equal(t, http.StatusFound, response.StatusCode)
		matches := displayPathPattern.FindStringSubmatch(response.Header.Get("Location"))
		require.Len(t, matches, 2, "Location should point to /display/<6-letter code>")
		return matches[1]
	}

	code := submit()

	// Resubmitting the same URL yields the same code.
	assert.Equal(t, code, submit())

	// The display page shows the full short URL.
	displayRequest, err := http.NewRequest(http.MethodGet, server.URL+"/display/"+code, nil)
	require.NoError(t, err)
	displayRequest.AddCookie(sessionCookie)

	displayResponse, err := client.Do(displayRequest)
	require.NoError(t, err)
	displayBody := readBody(t, displayResponse)
	displayResponse.Body.Close()
	assert.Equal(t, http.StatusOK, displayResponse.StatusCode)
	assert.Contains(t, displayBody, testShortURLBase+"/"+code)

	// The redirect path works without any authentication.
	redirectResponse, err := client.Get(server.URL + "/" + code)
	require.NoError(t, err)
	redirectResponse.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, redirectResponse.StatusCode)
	assert.Equal(t, "https://example.com", redirectResponse.Header.Get("Location"))

	// The listing page shows the mapping.
	allURLsRequest, err := http.NewRequest(http.MethodGet, server.URL+"/all_urls", nil)
	require.NoError(t, err)
	allURLsRequest.AddCookie(sessionCookie)

	allURLsResponse, err := client.Do(allURLsRequest)
	require.NoError(t, err)
	allURLsBody := readBody(t, allURLsResponse)
	allURLsResponse.Body.Close()
	assert.Equal(t, http.StatusOK, allURLsResponse.StatusCode)
	assert.Contains(t, allURLsBody, "https://example.com")
}

func TestSignupValidationMessages(t *testing.T) {
	server, _ := newTestServer(t)
	client := noRedirectClient()

	testCases := []struct {
		name            string
		username        string
		password        string
		expectedMessage string
	}{
		{"username too short", "abcd", "pw", "between 5 to 9 characters"},
		{"username too long", "abcdefghij", "pw", "between 5 to 9 characters"},
		{"missing password", "alice123", "", "Password is required"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			response, err := client.PostForm(server.URL+"/signup", url.Values{
				"username": {testCase.username},
				"password": {testCase.password},
			})
			require.NoError(t, err)
			body := readBody(t, response)
			response.Body.Close()

			assert.Equal(t, http.StatusOK, response.StatusCode, "the form is re-rendered, not redirected")
			assert.Contains(t, body, testCase.expectedMessage)
		})
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	server, _ := newTestServer(t)

	signUp(t, server, "alice123", "pw")

	response, err := noRedirectClient().PostForm(server.URL+"/signup", url.Values{
		"username": {"alice123"},
		"password": {"other"},
	})
	require.NoError(t, err)
	body := readBody(t, response)
	response.Body.Close()

	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, body, "This username already exists")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server, _ := newTestServer(t)
	client := noRedirectClient()

	signUp(t, server, "alice123", "pw")

	for _, form := range []url.Values{
		{"username": {"alice123"}, "password": {"wrong"}},
		{"username": {"nosuchuser"}, "password": {"pw"}},
	} {
		response, err := client.PostForm(server.URL+"/login", form)
		require.NoError(t, err)
		body := readBody(t, response)
		response.Body.Close()

		assert.Equal(t, http.StatusOK, response.StatusCode)
		assert.Contains(t, body, "Invalid username or password.")
	}
}

func TestLoginEstablishesSession(t *testing.T) {
	server, _ := newTestServer(t)
	client := noRedirectClient()

	signUp(t, server, "alice123", "pw")

	response, err := client.PostForm(server.URL+"/login", url.Values{
		"username": {"alice123"},
		"password": {"pw"},
	})
	require.NoError(t, err)
	response.Body.Close()

	require.Equal(t, http.StatusFound, response.StatusCode)
	assert.Equal(t, "/", response.Header.Get("Location"))
	assert.NotEmpty(t, response.Cookies())
}

func TestAnonymousIsRedirectedToLogin(t *testing.T) {
	server, _ := newTestServer(t)
	client := noRedirectClient()

	for _, path := range []string{"/", "/all_urls", "/display/AbCdEf", "/logout"} {
		response, err := client.Get(server.URL + path)
		require.NoError(t, err)
		response.Body.Close()

		assert.Equal(t, http.StatusFound, response.StatusCode, "path %s", path)
		assert.Equal(t, "/login", response.Header.Get("Location"))
	}
}

func TestRedirectForUnknownCode(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := noRedirectClient().Get(server.URL + "/AAAAAA")
	require.NoError(t, err)
	body := readBody(t, response)
	response.Body.Close()

	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	assert.Contains(t, body, "Url doesn't exist")
}

func TestAPIShorten(t *testing.T) {
	server, _ := newTestServer(t)

	sessionCookie := signUp(t, server, "alice123", "pw")

	client := resty.New().SetBaseURL(server.URL).SetCookie(sessionCookie)

	var shortenResponse models.ShortenResponse
	response, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.ShortenRequest{URL: "https://example.com"}).
		SetResult(&shortenResponse).
		Post("/api/shorten")
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated, response.StatusCode())
	firstResult := shortenResponse.Result
	assert.Regexp(t, regexp.QuoteMeta(testShortURLBase)+`/[a-zA-Z]{6}$`, firstResult)

	// The same URL a second time is a conflict carrying the existing code.
	response, err = client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.ShortenRequest{URL: "https://example.com"}).
		SetResult(&shortenResponse).
		Post("/api/shorten")
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, response.StatusCode())
	assert.Equal(t, firstResult, shortenResponse.Result)
}

func TestAPIShortenRequiresSession(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := resty.New().SetBaseURL(server.URL).R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.ShortenRequest{URL: "https://example.com"}).
		Post("/api/shorten")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode())
}

func TestAPIShortenBatch(t *testing.T) {
	server, _ := newTestServer(t)

	sessionCookie := signUp(t, server, "alice123", "pw")
	client := resty.New().SetBaseURL(server.URL).SetCookie(sessionCookie)

	batch := models.BatchShortenRequest{}
	for i := 1; i <= 3; i++ {
		batch = append(batch, models.ShortenRequestItem{
			CorrelationID: fmt.Sprintf("%d", i),
			OriginalURL:   fmt.Sprintf("https://example.com/%d", i),
		})
	}

	var batchResponse models.BatchShortenResponse
	response, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(batch).
		SetResult(&batchResponse).
		Post("/api/shorten/batch")
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated, response.StatusCode())
	require.Len(t, batchResponse, 3)
	seenShortURLs := map[string]bool{}
	for i, item := range batchResponse {
		assert.Equal(t, batch[i].CorrelationID, item.CorrelationID)
		assert.False(t, seenShortURLs[item.ShortURL], "short URLs must be unique within the batch")
		seenShortURLs[item.ShortURL] = true
	}
}

func TestAPIUserURLs(t *testing.T) {
	server, _ := newTestServer(t)

	sessionCookie := signUp(t, server, "alice123", "pw")
	client := resty.New().SetBaseURL(server.URL).SetCookie(sessionCookie)

	// No URLs yet.
	response, err := client.R().Get("/api/user/urls")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, response.StatusCode())

	_, err = client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.ShortenRequest{URL: "https://example.com"}).
		Post("/api/shorten")
	require.NoError(t, err)

	var urls models.UserUrls
	response, err = client.R().SetResult(&urls).Get("/api/user/urls")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	require.Len(t, urls, 1)
	assert.Equal(t, "https://example.com", urls[0].OriginalURL)
}

func TestPing(t *testing.T) {
	server, _ := newTestServer(t)

	response, err := resty.New().SetBaseURL(server.URL).R().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
}

func TestStatsIsGatedByTrustedSubnet(t *testing.T) {
	server, _ := newTestServer(t)

	signUp(t, server, "alice123", "pw")

	client := resty.New().SetBaseURL(server.URL)

	// The test server is reached from localhost, which is outside the
	// trusted subnet.
	response, err := client.R().Get("/api/internal/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, response.StatusCode())

	var stats models.Stats
	response, err = client.R().
		SetHeader("X-Real-IP", "192.168.1.15").
		SetResult(&stats).
		Get("/api/internal/stats")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, int64(1), stats.Users)
	assert.Equal(t, int64(0), stats.Urls)
}

func TestQRCodeForShortURL(t *testing.T) {
	server, _ := newTestServer(t)

	sessionCookie := signUp(t, server, "alice123", "pw")
	client := resty.New().SetBaseURL(server.URL).SetCookie(sessionCookie)

	var shortenResponse models.ShortenResponse
	_, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.ShortenRequest{URL: "https://example.com"}).
		SetResult(&shortenResponse).
		Post("/api/shorten")
	require.NoError(t, err)

	code := shortenResponse.Result[strings.LastIndex(shortenResponse.Result, "/")+1:]

	response, err := client.R().Get("/" + code + "/qr")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, "image/png", response.Header().Get("Content-Type"))
	assert.NotEmpty(t, response.Body())

	response, err = client.R().Get("/AAAAAA/qr")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode())
}

func TestGzippedJSONResponse(t *testing.T) {
	server, _ := newTestServer(t)

	sessionCookie := signUp(t, server, "alice123", "pw")

	request, err := http.NewRequest(
		http.MethodPost,
		server.URL+"/api/shorten",
		strings.NewReader(`{"url":"https://example.com"}`),
	)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	// Setting the header explicitly disables the transport's transparent
	// decompression, so the raw gzip body stays observable.
	request.Header.Set("Accept-Encoding", "gzip")
	request.AddCookie(sessionCookie)

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusCreated, response.StatusCode)
	require.Equal(t, "gzip", response.Header.Get("Content-Encoding"))

	gzipReader, err := gzip.NewReader(response.Body)
	require.NoError(t, err)
	defer gzipReader.Close()

	var shortenResponse models.ShortenResponse
	require.NoError(t, json.NewDecoder(gzipReader).Decode(&shortenResponse))
	assert.Regexp(t, regexp.QuoteMeta(testShortURLBase)+`/[a-zA-Z]{6}$`, shortenResponse.Result)
}
