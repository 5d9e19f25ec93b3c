// Package session manages login sessions carried in a signed JWT cookie.
// It provides middleware that loads the current user into the request
// context for the HTML and JSON surfaces.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shortly/internal/logger"
	"shortly/internal/models"
)

type userGetter interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
}

// Manager issues, verifies and clears session cookies.
type Manager struct {
	users userGetter

	// cookieName is the name of the cookie used to store the JWT.
	cookieName string

	// signingSecretKey is the key used to sign JWTs.
	signingSecretKey []byte

	// tokenLifetime bounds how long an issued session stays valid.
	tokenLifetime time.Duration
}

// Claims represents the JWT claims used by the system.
type Claims struct {
	jwt.RegisteredClaims
	UserID int `json:"user_id"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// CurrentUserKey is the context key under which the authenticated user is stored.
const CurrentUserKey ContextKey = "currentUser"

func New(users userGetter, cookieName string, signingSecretKey []byte) *Manager {
	return &Manager{
		users:            users,
		cookieName:       cookieName,
		signingSecretKey: signingSecretKey,
		tokenLifetime:    24 * time.Hour,
	}
}

// LogIn establishes a session for the given user by setting a signed
// cookie on the response.
func (m *Manager) LogIn(response http.ResponseWriter, usr *models.User) error {
	now := time.Now()
	tokenString, err := m.buildJWTString(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenLifetime)),
		},
		UserID: usr.ID,
	})
	if err != nil {
		return err
	}

	http.SetCookie(response, &http.Cookie{
		Name:     m.cookieName,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
	})

	return nil
}

// LogOut terminates the session by expiring the cookie.
func (m *Manager) LogOut(response http.ResponseWriter) {
	http.SetCookie(response, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// CurrentUser returns the user behind the request's session cookie, or
// models.ErrInvalidCredentials when there is no valid session.
func (m *Manager) CurrentUser(request *http.Request) (*models.User, error) {
	cookie, err := request.Cookie(m.cookieName)
	if err != nil {
		return nil, models.ErrInvalidCredentials
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		cookie.Value,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.signingSecretKey, nil
		},
	)
	if err != nil || !token.Valid {
		return nil, models.ErrInvalidCredentials
	}

	usr, err := m.users.GetByID(request.Context(), claims.UserID)
	if err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return usr, nil
}

// RequireUser is the middleware for the HTML surface. Requests without a
// valid session are redirected to the login page.
func (m *Manager) RequireUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		usr, err := m.CurrentUser(request)
		if err != nil {
			http.Redirect(response, request, "/login", http.StatusFound)
			return
		}

		h.ServeHTTP(response, request.WithContext(withUser(request.Context(), usr)))
	}

	return http.HandlerFunc(middleware)
}

// RequireUserAPI is the middleware for the JSON surface. Requests without
// a valid session get 401.
func (m *Manager) RequireUserAPI(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		usr, err := m.CurrentUser(request)
		if err != nil {
			logger.Log.Debugln("Error calling the `m.CurrentUser()`: ", zap.Error(err))
			response.WriteHeader(http.StatusUnauthorized)
			return
		}

		h.ServeHTTP(response, request.WithContext(withUser(request.Context(), usr)))
	}

	return http.HandlerFunc(middleware)
}

func withUser(ctx context.Context, usr *models.User) context.Context {
	return context.WithValue(ctx, CurrentUserKey, usr)
}

// UserFromContext extracts the authenticated user placed into the context
// by RequireUser / RequireUserAPI.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	usr, ok := ctx.Value(CurrentUserKey).(*models.User)
	return usr, ok && usr != nil
}

func (m *Manager) buildJWTString(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, *claims)

	tokenString, err := token.SignedString(m.signingSecretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
