package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExtractedEvent is an event read from an untrusted source such as an image
// recognizer. Times are kept as the raw strings the source produced until
// they are validated.
type ExtractedEvent struct {
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	AllDay    bool   `json:"all_day,omitempty"`
}

// CompareOptions tunes the comparison engine.
type CompareOptions struct {
	// ExcludeAllDay drops all-day entries from both sides before merging.
	ExcludeAllDay bool
}

// entry is a validated span used internally to merge heterogeneous sources.
type entry struct {
	span   Interval
	allDay bool
}

func (e entry) Span() Interval { return e.span }
func (e entry) IsAllDay() bool { return e.allDay }

// acceptedLayouts are tried in order; layouts without an offset are read in
// the comparison zone.
var acceptedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	dateLayout,
}

// ParseTime parses a loosely formatted timestamp. Values without an explicit
// offset are interpreted in loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range acceptedLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

// Span validates the extracted event and returns its interval.
func (e ExtractedEvent) Span(loc *time.Location) (Interval, error) {
	start, err := ParseTime(e.StartTime, loc)
	if err != nil {
		return Interval{}, &ValidationError{Index: -1, Field: "start_time", Reason: err.Error()}
	}
	end, err := ParseTime(e.EndTime, loc)
	if err != nil {
		return Interval{}, &ValidationError{Index: -1, Field: "end_time", Reason: err.Error()}
	}
	if e.AllDay && !end.After(start) && DateOf(start) == DateOf(end) {
		// A single-date all-day entry covers the whole day.
		end = start.AddDate(0, 0, 1)
	}
	return NewInterval(start, end)
}

// ValidateExtracted checks every extracted event and returns all failures
// together. Nothing is dropped silently.
func ValidateExtracted(events []ExtractedEvent, loc *time.Location) ([]Interval, error) {
	spans := make([]Interval, 0, len(events))
	var errs ValidationErrors
	for i, e := range events {
		span, err := e.Span(loc)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				verr = &ValidationError{Reason: err.Error()}
			}
			verr.Index = i
			errs = append(errs, verr)
			continue
		}
		spans = append(spans, span)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return spans, nil
}

// Compare merges both parties' events and returns the common free intervals
// of date within window: a slot is free only if neither side is busy there.
// The result depends only on the inputs.
func Compare[E Entry](mine []E, theirs []ExtractedEvent, date Date, window Window, loc *time.Location, opts CompareOptions) ([]Interval, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	theirSpans, err := ValidateExtracted(theirs, loc)
	if err != nil {
		return nil, err
	}

	merged := make([]entry, 0, len(mine)+len(theirSpans))
	for _, e := range mine {
		if opts.ExcludeAllDay && e.IsAllDay() {
			continue
		}
		merged = append(merged, entry{span: e.Span(), allDay: e.IsAllDay()})
	}
	for i, span := range theirSpans {
		if opts.ExcludeAllDay && theirs[i].AllDay {
			continue
		}
		merged = append(merged, entry{span: span, allDay: theirs[i].AllDay})
	}

	return FreeSlots(merged, date, window, loc)
}
