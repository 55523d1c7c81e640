// Package logging builds the process logger and keeps attribute names
// consistent across packages.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Attribute keys.
const (
	KeyOperation    = "operation"
	KeyOwner        = "owner_id"
	KeyTool         = "tool"
	KeyConversation = "conversation_id"
	KeyRequestID    = "request_id"
	KeyStatus       = "status"
	KeyError        = "error"
)

// ParseLevel maps debug, warn and error to their slog levels; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a text logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Owner returns a slog attribute for the owning user id.
func Owner(id int64) slog.Attr {
	return slog.Int64(KeyOwner, id)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Conversation returns a slog attribute for a conversation id.
func Conversation(id string) slog.Attr {
	return slog.String(KeyConversation, id)
}

// RequestID returns a slog attribute for the chi request id.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Status returns a slog attribute for an HTTP or upstream status code.
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Err returns a slog attribute for err. A nil error yields an empty group,
// which slog omits.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// Truncate shortens s to at most n bytes for log output, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
