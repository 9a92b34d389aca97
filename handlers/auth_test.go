package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/miyagawa-lab/geonarrator/config"
)

func testAuthHandler(t *testing.T, password string) *AuthHandler {
	t.Helper()
	return NewAuthHandler(config.Config{
		APIKey:    "secret-key",
		JWTSecret: "jwt-secret",
		Usernames: []string{"operator"},
		Passwords: []string{password},
	})
}

func protected(a *AuthHandler) http.Handler {
	return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestMiddlewareRejectsAnonymous(t *testing.T) {
	a := testAuthHandler(t, "pw")
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, httptest.NewRequest("GET", "/locations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAcceptsAPIKey(t *testing.T) {
	a := testAuthHandler(t, "pw")

	req := httptest.NewRequest("GET", "/locations", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest("GET", "/locations", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec = httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func loginRequest(username, password string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLoginIssuesWorkingSession(t *testing.T) {
	a := testAuthHandler(t, "pw")

	rec := httptest.NewRecorder()
	a.Login(rec, loginRequest("operator", "pw"))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, tokenCookieName, cookies[0].Name)

	req := httptest.NewRequest("GET", "/locations", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := testAuthHandler(t, "pw")

	rec := httptest.NewRecorder()
	a.Login(rec, loginRequest("operator", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	a.Login(rec, loginRequest("ghost", "pw"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginAcceptsBcryptStoredPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	a := testAuthHandler(t, string(hash))

	rec := httptest.NewRecorder()
	a.Login(rec, loginRequest("operator", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Login(rec, loginRequest("operator", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsTamperedToken(t *testing.T) {
	a := testAuthHandler(t, "pw")

	rec := httptest.NewRecorder()
	a.Login(rec, loginRequest("operator", "pw"))
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]
	cookie.Value += "tampered"

	req := httptest.NewRequest("GET", "/locations", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
