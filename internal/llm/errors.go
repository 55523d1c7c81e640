package llm

import (
	"errors"
	"fmt"
)

// UpstreamError is returned when the chat-completion endpoint answers with a
// non-2xx status. Body is the raw response text.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream_error: HTTP %d: %s", e.Status, e.Body)
}

// ErrNoChoices is returned when a successful response carries no choices.
var ErrNoChoices = errors.New("chat completion returned no choices")
