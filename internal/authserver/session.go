package authserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookie is the login-session cookie name.
const SessionCookie = "gatekeeper_session"

// SessionManager issues and verifies the HS256-signed login sessions the
// authorize endpoint accepts in place of re-entered credentials. Sessions
// authenticate a user to the authorization server only; they are not OAuth
// tokens and never leave it.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewSessionManager builds a manager from the configured shared secret.
func NewSessionManager(secret, issuer string, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: []byte(secret), ttl: ttl, issuer: issuer}
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// Issue mints a session token for an authenticated user.
func (m *SessionManager) Issue(username string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks a session token and returns the username it authenticates.
func (m *SessionManager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return "", fmt.Errorf("session verification failed: %w", err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("invalid session claims")
	}
	return claims.Subject, nil
}

// CookieFor wraps a session token in its cookie.
func (m *SessionManager) CookieFor(token string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// UserFromRequest resolves the session cookie to a username, if present and
// valid. A missing or bad cookie is not an error; the caller falls back to
// the login form.
func (m *SessionManager) UserFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	username, err := m.Verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return username, true
}
