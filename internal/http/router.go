package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/calassist/internal/api"
	"github.com/jw6ventures/calassist/internal/auth"
	"github.com/jw6ventures/calassist/internal/config"
	"github.com/jw6ventures/calassist/internal/http/csrf"
	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/http/ratelimit"
	"github.com/jw6ventures/calassist/internal/metrics"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Router is the HTTP entry point. Close stops the limiter cleanup goroutines.
type Router struct {
	http.Handler
	limiters []*ratelimit.Limiter
}

func (rt *Router) Close() {
	for _, l := range rt.limiters {
		l.Close()
	}
}

// NewRouter wires the health, auth, Google and JSON API routes.
func NewRouter(cfg *config.Config, health HealthChecker, authService *auth.Service, h *api.Handler) *Router {
	r := chi.NewRouter()

	csrfGuard := csrf.New(cfg.BaseURL)
	clientIP := ratelimit.ClientIP(cfg.TrustedProxies)
	// Auth endpoints: 5 requests per second, burst of 10
	authLimiter := ratelimit.New(rate.Limit(5), 10, 5*time.Minute, clientIP)
	// Chat and image extraction call the model: one request every 2s per owner, burst of 5
	modelLimiter := ratelimit.New(rate.Every(2*time.Second), 5, 5*time.Minute,
		ratelimit.Prefixed("owner:", func(r *http.Request) (string, bool) {
			id, ok := auth.OwnerID(r.Context())
			return strconv.FormatInt(id, 10), ok
		}, clientIP))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.Write(w, http.StatusNotFound, "not_found", "no such route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.Write(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
			httperrors.LogError(r, "readiness check failed", err)
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware())
		r.Get("/login", authService.BeginOAuth)
		r.Get("/callback", authService.HandleOAuthCallback)
		r.With(csrfGuard.Middleware).Post("/logout", authService.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(authService.RequireSession)
		r.Get("/google/connect", h.GoogleConnect)
		r.Get(cfg.Google.RedirectPath, h.GoogleCallback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authService.RequireSession)
		r.Use(csrfGuard.Middleware)

		r.Get("/me", h.Me)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/availability", h.Availability)

		r.Get("/events", h.ListEvents)
		r.Post("/events", h.CreateEvent)
		r.Post("/events/check-overlap", h.CheckOverlap)
		r.Get("/events/{id}", h.GetEvent)
		r.Put("/events/{id}", h.UpdateEvent)
		r.Delete("/events/{id}", h.DeleteEvent)

		r.Post("/compare", h.Compare)
		r.With(modelLimiter.Middleware()).Post("/compare/extract", h.ExtractCompare)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Patch("/conversations/{id}", h.RenameConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.With(modelLimiter.Middleware()).Post("/chat", h.Chat)

		r.Post("/import/ics", h.ImportICS)
		r.Get("/export.ics", h.ExportICS)

		r.Get("/google/status", h.GoogleStatus)
		r.Post("/google/sync", h.GoogleSync)
		r.Delete("/google", h.GoogleDisconnect)
	})

	return &Router{Handler: r, limiters: []*ratelimit.Limiter{authLimiter, modelLimiter}}
}
