package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/jw6ventures/calassist/internal/config"
	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/store"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// UserStore is the user persistence the auth flows need.
type UserStore interface {
	UpsertOAuthUser(ctx context.Context, subject, email string) (*store.User, error)
	GetByID(ctx context.Context, id int64) (*store.User, error)
}

// AnonymousProvider returns the shared user for unauthenticated access.
type AnonymousProvider interface {
	EnsureAnonymousUser(ctx context.Context) (*store.User, error)
}

type oidcClient struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// Service encapsulates the OIDC login flow and session enforcement.
type Service struct {
	cfg      *config.Config
	users    UserStore
	anon     AnonymousProvider
	sessions *SessionManager
	logger   *slog.Logger

	mu     sync.Mutex
	client *oidcClient
}

func NewService(cfg *config.Config, users UserStore, anon AnonymousProvider, sessions *SessionManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, users: users, anon: anon, sessions: sessions, logger: logger}
}

// oidc discovers the provider on first use so the server can start while the
// identity provider is unreachable.
func (s *Service) oidc(ctx context.Context) (*oidcClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	if s.cfg.OAuth.ClientID == "" {
		return nil, errors.New("oauth is not configured")
	}

	issuer := s.cfg.OAuth.IssuerURL
	providerURL := issuer
	if d := s.cfg.OAuth.DiscoveryURL; d != "" {
		providerURL = strings.TrimSuffix(d, wellKnownSuffix)
	}
	if issuer != "" && issuer != providerURL {
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
	}
	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	s.client = &oidcClient{
		oauth: &oauth2.Config{
			ClientID:     s.cfg.OAuth.ClientID,
			ClientSecret: s.cfg.OAuth.ClientSecret,
			RedirectURL:  strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.OAuth.RedirectPath,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: s.cfg.OAuth.ClientID}),
	}
	return s.client, nil
}

// BeginOAuth starts the OAuth/OIDC authorization flow.
func (s *Service) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	client, err := s.oidc(r.Context())
	if err != nil {
		httperrors.LogError(r, "oidc unavailable", err)
		httperrors.Write(w, http.StatusServiceUnavailable, "auth_unavailable", "login is currently unavailable", nil)
		return
	}

	state, err := randomToken()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate oauth state")
		return
	}
	nonce, err := randomToken()
	if err != nil {
		httperrors.InternalError(w, r, err, "generate oauth nonce")
		return
	}
	st := loginState{State: state, Nonce: nonce, ReturnTo: safeReturnTo(r.URL.Query().Get("return_to"))}
	if err := s.sessions.issueState(w, st); err != nil {
		httperrors.InternalError(w, r, err, "store oauth state")
		return
	}

	http.Redirect(w, r, client.oauth.AuthCodeURL(state, oidc.Nonce(nonce)), http.StatusFound)
}

// HandleOAuthCallback completes the OAuth flow and creates a session.
func (s *Service) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.sessions.consumeState(w, r)
	if err != nil || r.URL.Query().Get("state") != st.State {
		httperrors.Write(w, http.StatusBadRequest, "invalid_state", "login session expired, please try again", nil)
		return
	}
	if e := r.URL.Query().Get("error"); e != "" {
		httperrors.LogInfo(r, "oauth provider returned error", slog.String("oauth_error", e))
		httperrors.Write(w, http.StatusUnauthorized, "login_denied", e, nil)
		return
	}

	client, err := s.oidc(ctx)
	if err != nil {
		httperrors.LogError(r, "oidc unavailable", err)
		httperrors.Write(w, http.StatusServiceUnavailable, "auth_unavailable", "login is currently unavailable", nil)
		return
	}

	token, err := client.oauth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		httperrors.LogError(r, "oauth code exchange failed", err)
		httperrors.Write(w, http.StatusUnauthorized, "login_failed", "could not complete login", nil)
		return
	}
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		httperrors.LogError(r, "oauth token response without id_token", nil)
		httperrors.Write(w, http.StatusUnauthorized, "login_failed", "could not complete login", nil)
		return
	}
	idToken, err := client.verifier.Verify(ctx, rawID)
	if err != nil || idToken.Nonce != st.Nonce {
		httperrors.LogError(r, "id token rejected", err)
		httperrors.Write(w, http.StatusUnauthorized, "login_failed", "could not complete login", nil)
		return
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		httperrors.InternalError(w, r, err, "decode id token claims")
		return
	}

	user, err := s.users.UpsertOAuthUser(ctx, idToken.Subject, claims.Email)
	if err != nil {
		httperrors.InternalError(w, r, err, "persist user")
		return
	}
	if err := s.sessions.Issue(w, user.ID); err != nil {
		httperrors.InternalError(w, r, err, "issue session")
		return
	}
	s.logger.Info("user logged in", logging.Owner(user.ID))

	http.Redirect(w, r, st.ReturnTo, http.StatusFound)
}

// Logout clears the session cookie.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// RequireSession resolves the current user from the session cookie. Without
// a session, API requests get 401 unless anonymous access is enabled, in
// which case they run as the shared anonymous user. Browser requests are
// redirected to the login page.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if uid, ok := s.sessions.CurrentUserID(r); ok {
			user, err := s.users.GetByID(ctx, uid)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
				return
			case !errors.Is(err, store.ErrNotFound):
				httperrors.InternalError(w, r, err, "load session user")
				return
			}
			s.sessions.Clear(w)
		}

		if s.cfg.AllowAnonymous && s.anon != nil {
			user, err := s.anon.EnsureAnonymousUser(ctx)
			if err != nil {
				httperrors.InternalError(w, r, err, "load anonymous user")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			httperrors.Write(w, http.StatusUnauthorized, "unauthenticated", "login required", nil)
			return
		}
		http.Redirect(w, r, "/auth/login?return_to="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
	})
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// safeReturnTo only allows local absolute paths.
func safeReturnTo(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return "/"
	}
	return p
}
