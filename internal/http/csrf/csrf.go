// Package csrf implements double-submit CSRF protection for the JSON API.
//
// Safe requests receive a random token in an HttpOnly cookie; the same token is
// exposed to the client through GET /api/me. Unsafe requests must echo it in
// the X-CSRF-Token header.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
)

const (
	cookieName = "calassist_csrf"
	headerName = "X-CSRF-Token"
	tokenBytes = 32
)

var (
	ErrMissingToken  = errors.New("csrf token missing")
	ErrTokenMismatch = errors.New("csrf token mismatch")
)

type contextKey struct{}

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Guard issues and checks CSRF tokens.
type Guard struct {
	secure bool
}

// New returns a Guard whose cookie is Secure unless baseURL is plain http.
func New(baseURL string) *Guard {
	u, err := url.Parse(baseURL)
	return &Guard{secure: err != nil || u.Scheme != "http"}
}

// Middleware rejects unsafe requests whose header does not match the cookie.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieToken(r)
		if !safeMethods[r.Method] {
			if err := verify(token, r.Header.Get(headerName)); err != nil {
				httperrors.Write(w, http.StatusForbidden, "csrf", err.Error(), nil)
				return
			}
		} else if token == "" {
			var err error
			if token, err = newToken(); err != nil {
				httperrors.InternalError(w, r, err, "issue csrf token")
				return
			}
			g.setCookie(w, token)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, token)))
	})
}

// TokenFromContext returns the token bound to the request, or "".
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKey{}).(string)
	return token
}

func (g *Guard) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieToken(r *http.Request) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func verify(token, provided string) error {
	if token == "" || provided == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(provided)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
