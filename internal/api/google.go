package api

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/jw6ventures/calassist/internal/googlesync"
	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/schedule"
)

const (
	googleStateCookie = "calassist_google_state"

	defaultImportPast   = 7
	defaultImportFuture = 60
)

func (h *Handler) googleDisabled(w http.ResponseWriter, r *http.Request) bool {
	if h.google != nil {
		return false
	}
	httperrors.Write(w, http.StatusNotFound, "google_disabled", "google calendar sync is not configured", nil)
	return true
}

// GoogleConnect redirects the browser to Google's consent page.
func (h *Handler) GoogleConnect(w http.ResponseWriter, r *http.Request) {
	if h.googleDisabled(w, r) {
		return
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		httperrors.InternalError(w, r, err, "generate google state")
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     googleStateCookie,
		Value:    state,
		Path:     "/google",
		Expires:  h.now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusFound)
}

// GoogleCallback stores the token for the session owner and returns to the app.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.googleDisabled(w, r) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := r.Cookie(googleStateCookie)
	http.SetCookie(w, &http.Cookie{Name: googleStateCookie, Path: "/google", Expires: time.Unix(0, 0), MaxAge: -1})
	q := r.URL.Query()
	if err != nil || c.Value == "" || q.Get("state") != c.Value {
		httperrors.Write(w, http.StatusBadRequest, "invalid_state", "google connection expired, please try again", nil)
		return
	}
	if e := q.Get("error"); e != "" {
		http.Redirect(w, r, "/?google=denied", http.StatusFound)
		return
	}
	if err := h.google.Exchange(r.Context(), owner, q.Get("code")); err != nil {
		httperrors.LogError(r, "google code exchange failed", err)
		http.Redirect(w, r, "/?google=error", http.StatusFound)
		return
	}
	h.logger.Info("google calendar connected", logging.Owner(owner))
	http.Redirect(w, r, "/?google=connected", http.StatusFound)
}

type googleSyncRequest struct {
	From schedule.Date `json:"from"`
	To   schedule.Date `json:"to"`
}

// GoogleSync imports the primary calendar for an inclusive date range,
// defaulting to a week back and two months ahead.
func (h *Handler) GoogleSync(w http.ResponseWriter, r *http.Request) {
	if h.googleDisabled(w, r) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in googleSyncRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
			httperrors.BadRequestError(w, r, err, "invalid sync payload")
			return
		}
	}
	today := schedule.Today(h.now(), h.loc)
	from, to := today.At(0, h.loc).AddDate(0, 0, -defaultImportPast), today.At(24, h.loc).AddDate(0, 0, defaultImportFuture)
	if !in.From.IsZero() {
		from = in.From.At(0, h.loc)
	}
	if !in.To.IsZero() {
		to = in.To.At(24, h.loc)
	}

	res, err := h.google.Import(r.Context(), owner, from, to)
	if err != nil {
		h.fail(w, r, err, "google sync")
		return
	}
	httperrors.JSON(w, http.StatusOK, res)
}

type googleStatusResponse struct {
	Enabled   bool                  `json:"enabled"`
	Connected bool                  `json:"connected"`
	LastSync  *googlesync.SyncState `json:"lastSync,omitempty"`
}

func (h *Handler) GoogleStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if h.google == nil {
		httperrors.JSON(w, http.StatusOK, googleStatusResponse{})
		return
	}
	connected, err := h.google.Connected(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, "google status")
		return
	}
	resp := googleStatusResponse{Enabled: true, Connected: connected}
	state, found, err := h.google.State(owner)
	if err != nil {
		h.logger.Warn("read google sync state", logging.Owner(owner), logging.Err(err))
	} else if found {
		resp.LastSync = &state
	}
	httperrors.JSON(w, http.StatusOK, resp)
}

func (h *Handler) GoogleDisconnect(w http.ResponseWriter, r *http.Request) {
	if h.googleDisabled(w, r) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.google.Disconnect(r.Context(), owner); err != nil {
		h.fail(w, r, err, "google connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
