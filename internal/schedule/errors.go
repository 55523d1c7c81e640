package schedule

import (
	"fmt"
	"strings"
)

// ValidationError describes a single rejected input.
type ValidationError struct {
	// Index is the position of the offending item in its input list, or -1.
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 && e.Field != "" {
		return fmt.Sprintf("item %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

// ValidationErrors collects every rejected item of a batch so callers can
// report all of them at once.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
