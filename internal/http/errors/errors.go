package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/calassist/internal/logging"
)

// Body is the JSON error envelope returned by the API.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Write sends an error envelope.
func Write(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, Body{Error: code, Message: message, Details: details})
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	// Return generic error to client
	Write(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	logger(r).Warn("bad request", logging.Err(err))
	Write(w, http.StatusBadRequest, "bad_request", clientMessage, nil)
}

func NotFound(w http.ResponseWriter, r *http.Request, what string) {
	Write(w, http.StatusNotFound, "not_found", what+" not found", nil)
}

func LogError(r *http.Request, message string, err error) {
	logger(r).Error(message, logging.Err(err))
}

func LogInfo(r *http.Request, message string, attrs ...any) {
	logger(r).Info(message, attrs...)
}

func logger(r *http.Request) *slog.Logger {
	l := slog.Default()
	if id := middleware.GetReqID(r.Context()); id != "" {
		l = l.With(logging.RequestID(id))
	}
	return l.With(slog.String("method", r.Method), slog.String("path", r.URL.Path))
}
