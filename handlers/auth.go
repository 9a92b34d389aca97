package handlers

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/miyagawa-lab/geonarrator/config"
)

const tokenCookieName = "token"

// AuthHandler guards the API with either the X-API-Key header (device
// access) or a signed session cookie issued by Login (UI access).
type AuthHandler struct {
	apiKey    string
	jwtSecret []byte
	users     map[string]string
}

// NewAuthHandler builds the auth layer from configuration.
func NewAuthHandler(cfg config.Config) *AuthHandler {
	users := make(map[string]string, len(cfg.Usernames))
	for i, name := range cfg.Usernames {
		users[name] = cfg.Passwords[i]
	}
	return &AuthHandler{
		apiKey:    cfg.APIKey,
		jwtSecret: []byte(cfg.JWTSecret),
		users:     users,
	}
}

// Middleware rejects requests that present neither a valid API key nor a
// valid session cookie.
func (a *AuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		cookie, err := r.Cookie(tokenCookieName)
		if err == nil && a.verifyToken(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "valid API key or login session required")
	})
}

func (a *AuthHandler) verifyToken(tokenString string) bool {
	if len(a.jwtSecret) == 0 {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	return err == nil && token.Valid
}

// checkPassword accepts either a bcrypt hash (operators may store hashed
// credentials in PASSWORDS) or a plaintext value compared in constant time.
func checkPassword(stored, supplied string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// Login exchanges form credentials for a session cookie.
func (a *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "bad_form", "could not parse login form")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	stored, ok := a.users[username]
	if !ok || !checkPassword(stored, password) {
		log.Printf("Failed login attempt for user %q", username)
		WriteAPIError(w, http.StatusUnauthorized, "bad_credentials", "invalid username or password")
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		log.Printf("Error signing session token: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "token_error", "could not issue session token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "login successful"})
}

// Logout clears the session cookie.
func (a *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
