// Package api serves the JSON API consumed by the calassist web client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/calassist/internal/auth"
	"github.com/jw6ventures/calassist/internal/chat"
	"github.com/jw6ventures/calassist/internal/googlesync"
	"github.com/jw6ventures/calassist/internal/http/csrf"
	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

const (
	maxJSONBody  = 1 << 20
	maxImageBody = 10 << 20
	maxICSBody   = 5 << 20
)

// ChatService runs one assistant turn.
type ChatService interface {
	Send(ctx context.Context, owner int64, in chat.SendInput) (*chat.SendResult, error)
}

// Extractor reads events out of a schedule screenshot.
type Extractor interface {
	Events(ctx context.Context, imageURL string, date schedule.Date, loc *time.Location) ([]schedule.ExtractedEvent, error)
}

// GoogleSync links a Google account and imports its primary calendar.
type GoogleSync interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, owner int64, code string) error
	Connected(ctx context.Context, owner int64) (bool, error)
	Disconnect(ctx context.Context, owner int64) error
	Import(ctx context.Context, owner int64, from, to time.Time) (googlesync.SyncState, error)
	State(owner int64) (googlesync.SyncState, bool, error)
}

// Options wires a Handler. Google is nil when Google sync is disabled.
type Options struct {
	Store         *store.Store
	Chat          ChatService
	Extractor     Extractor
	Google        GoogleSync
	Location      *time.Location
	Window        schedule.Window
	ExcludeAllDay bool
	BaseURL       string
	Now           func() time.Time
	Logger        *slog.Logger
}

// Handler serves the /api endpoints.
type Handler struct {
	store         *store.Store
	chat          ChatService
	extractor     Extractor
	google        GoogleSync
	loc           *time.Location
	window        schedule.Window
	excludeAllDay bool
	secureCookies bool
	now           func() time.Time
	logger        *slog.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		store:         opts.Store,
		chat:          opts.Chat,
		extractor:     opts.Extractor,
		google:        opts.Google,
		loc:           opts.Location,
		window:        opts.Window,
		excludeAllDay: opts.ExcludeAllDay,
		secureCookies: isHTTPS(opts.BaseURL),
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

type meResponse struct {
	User          *store.User     `json:"user"`
	Anonymous     bool            `json:"anonymous"`
	CSRFToken     string          `json:"csrfToken"`
	Timezone      string          `json:"timezone"`
	Today         schedule.Date   `json:"today"`
	Window        schedule.Window `json:"window"`
	GoogleEnabled bool            `json:"googleEnabled"`
}

// Me describes the session: user, CSRF token and calendar settings.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Write(w, http.StatusUnauthorized, "unauthenticated", "login required", nil)
		return
	}
	httperrors.JSON(w, http.StatusOK, meResponse{
		User:          user,
		Anonymous:     user.OAuthSubject == store.AnonymousSubject,
		CSRFToken:     csrf.TokenFromContext(r.Context()),
		Timezone:      h.loc.String(),
		Today:         schedule.Today(h.now(), h.loc),
		Window:        h.window,
		GoogleEnabled: h.google != nil,
	})
}

// owner returns the authenticated owner or writes 401.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.OwnerID(r.Context())
	if !ok {
		httperrors.Write(w, http.StatusUnauthorized, "unauthenticated", "login required", nil)
	}
	return id, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// dateParam reads a YYYY-MM-DD query value, defaulting to today.
func (h *Handler) dateParam(r *http.Request, name string) (schedule.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return schedule.Today(h.now(), h.loc), nil
	}
	return schedule.ParseDate(v)
}

type validationDetail struct {
	Index  *int   `json:"index,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func detail(e *schedule.ValidationError) validationDetail {
	d := validationDetail{Field: e.Field, Reason: e.Reason}
	if e.Index >= 0 {
		idx := e.Index
		d.Index = &idx
	}
	return d
}

// fail maps domain errors onto API responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	var (
		verrs    schedule.ValidationErrors
		verr     *schedule.ValidationError
		toolErr  *chat.ValidationError
		upstream *llm.UpstreamError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httperrors.NotFound(w, r, what)
	case errors.As(err, &verrs):
		details := make([]validationDetail, 0, len(verrs))
		for _, e := range verrs {
			details = append(details, detail(e))
		}
		httperrors.Write(w, http.StatusUnprocessableEntity, "validation_failed", verrs.Error(), details)
	case errors.As(err, &verr):
		httperrors.Write(w, http.StatusUnprocessableEntity, "validation_failed", verr.Error(), []validationDetail{detail(verr)})
	case errors.As(err, &toolErr):
		httperrors.Write(w, http.StatusUnprocessableEntity, "validation_failed", toolErr.Error(), nil)
	case errors.As(err, &upstream):
		httperrors.LogError(r, "model request failed", err)
		httperrors.JSON(w, http.StatusBadGateway, map[string]any{
			"error":  "upstream_error",
			"status": upstream.Status,
			"body":   upstream.Body,
		})
	case errors.Is(err, context.DeadlineExceeded):
		httperrors.LogError(r, "upstream timed out", err)
		httperrors.Write(w, http.StatusGatewayTimeout, "upstream_timeout", "the assistant took too long to answer", nil)
	case errors.Is(err, chat.ErrEmptyMessage):
		httperrors.Write(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
	case googlesync.IsNotConnected(err):
		httperrors.Write(w, http.StatusConflict, "google_not_connected", err.Error(), nil)
	default:
		httperrors.InternalError(w, r, err, what)
	}
}

func isHTTPS(base string) bool {
	return len(base) >= 8 && base[:8] == "https://"
}
