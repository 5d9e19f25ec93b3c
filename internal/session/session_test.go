package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortly/internal/logger"
	"shortly/internal/models"
	"shortly/internal/session"
)

type staticUsers struct {
	usersByID map[int]*models.User
}

func (s *staticUsers) GetByID(ctx context.Context, id int) (*models.User, error) {
	usr, ok := s.usersByID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return usr, nil
}

func newTestManager() (*session.Manager, *models.User) {
	alice := &models.User{ID: 1, Username: "alice123"}
	manager := session.New(
		&staticUsers{usersByID: map[int]*models.User{1: alice}},
		"shortly_session",
		[]byte("test-secret"),
	)
	return manager, alice
}

func TestMain(m *testing.M) {
	if err := logger.Init("debug"); err != nil {
		panic(err)
	}
	m.Run()
}

func requestWithCookies(recorder *httptest.ResponseRecorder) *http.Request {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, cookie := range recorder.Result().Cookies() {
		request.AddCookie(cookie)
	}
	return request
}

func TestLogInAndCurrentUser(t *testing.T) {
	manager, alice := newTestManager()

	recorder := httptest.NewRecorder()
	require.NoError(t, manager.LogIn(recorder, alice))

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "shortly_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	usr, err := manager.CurrentUser(requestWithCookies(recorder))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, usr.ID)
}

func TestCurrentUserWithoutCookie(t *testing.T) {
	manager, _ := newTestManager()

	_, err := manager.CurrentUser(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestCurrentUserWithForgedCookie(t *testing.T) {
	manager, alice := newTestManager()

	otherManager := session.New(
		&staticUsers{usersByID: map[int]*models.User{1: alice}},
		"shortly_session",
		[]byte("other-secret"),
	)

	recorder := httptest.NewRecorder()
	require.NoError(t, otherManager.LogIn(recorder, alice))

	_, err := manager.CurrentUser(requestWithCookies(recorder))
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLogOutExpiresCookie(t *testing.T) {
	manager, _ := newTestManager()

	recorder := httptest.NewRecorder()
	manager.LogOut(recorder)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRequireUserRedirectsAnonymousToLogin(t *testing.T) {
	manager, _ := newTestManager()

	handler := manager.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("the protected handler should not run for anonymous requests")
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusFound, recorder.Code)
	assert.Equal(t, "/login", recorder.Header().Get("Location"))
}

func TestRequireUserAPIReturns401(t *testing.T) {
	manager, _ := newTestManager()

	handler := manager.RequireUserAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("the protected handler should not run for anonymous requests")
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/user/urls", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequireUserPutsUserIntoContext(t *testing.T) {
	manager, alice := newTestManager()

	loginRecorder := httptest.NewRecorder()
	require.NoError(t, manager.LogIn(loginRecorder, alice))

	var seen *models.User
	handler := manager.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usr, ok := session.UserFromContext(r.Context())
		require.True(t, ok)
		seen = usr
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithCookies(loginRecorder))

	require.NotNil(t, seen)
	assert.Equal(t, alice.Username, seen.Username)
}
