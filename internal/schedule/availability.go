package schedule

import (
	"slices"
	"time"
)

// Entry is anything that occupies time on a calendar.
type Entry interface {
	Span() Interval
	IsAllDay() bool
}

// DayAvailability is the free time of a single day within a working window.
type DayAvailability struct {
	Date           Date       `json:"date"`
	Window         Interval   `json:"window"`
	FreeSlots      []Interval `json:"freeSlots"`
	TotalFreeHours float64    `json:"totalFreeHours"`
}

// OnDate returns the entries whose start falls on date in loc, preserving input order.
func OnDate[E Entry](entries []E, date Date, loc *time.Location) []E {
	var out []E
	for _, e := range entries {
		if date.Holds(e.Span().Start, loc) {
			out = append(out, e)
		}
	}
	return out
}

// FreeSlots computes the free intervals of date within window. Entries that do
// not start on date are ignored. The result is chronological and every slot
// lies inside the window.
func FreeSlots[E Entry](entries []E, date Date, window Window, loc *time.Location) ([]Interval, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	day := window.On(date, loc)

	spans := spansOf(OnDate(entries, date, loc))
	return sweep(spans, day), nil
}

// TotalFreeHours sums the slot durations in hours.
func TotalFreeHours(slots []Interval) float64 {
	var total time.Duration
	for _, s := range slots {
		total += s.Duration()
	}
	return total.Hours()
}

// Availability computes free slots and derives the total from them.
func Availability[E Entry](entries []E, date Date, window Window, loc *time.Location) (DayAvailability, error) {
	slots, err := FreeSlots(entries, date, window, loc)
	if err != nil {
		return DayAvailability{}, err
	}
	if slots == nil {
		slots = []Interval{}
	}
	return DayAvailability{
		Date:           date,
		Window:         window.On(date, loc),
		FreeSlots:      slots,
		TotalFreeHours: TotalFreeHours(slots),
	}, nil
}

// BusyBlocks returns the merged busy time of date, clipped to window.
func BusyBlocks[E Entry](entries []E, date Date, window Window, loc *time.Location) ([]Interval, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	day := window.On(date, loc)

	spans := spansOf(OnDate(entries, date, loc))
	sortSpans(spans)

	var blocks []Interval
	for _, s := range spans {
		s = clip(s, day)
		if !s.End.After(s.Start) {
			continue
		}
		if n := len(blocks); n > 0 && !s.Start.After(blocks[n-1].End) {
			if s.End.After(blocks[n-1].End) {
				blocks[n-1].End = s.End
			}
			continue
		}
		blocks = append(blocks, s)
	}
	return blocks, nil
}

// sweep walks spans in start order with a cursor that only moves forward, so
// overlapping and nested spans collapse into one busy block.
func sweep(spans []Interval, day Interval) []Interval {
	if len(spans) == 0 {
		return []Interval{day}
	}
	sortSpans(spans)

	var free []Interval
	cursor := day.Start
	for _, s := range spans {
		gapEnd := s.Start
		if gapEnd.After(day.End) {
			gapEnd = day.End
		}
		if cursor.Before(gapEnd) {
			free = append(free, Interval{Start: cursor, End: gapEnd})
		}
		if s.End.After(cursor) {
			cursor = s.End
		}
	}
	if cursor.Before(day.End) {
		free = append(free, Interval{Start: cursor, End: day.End})
	}
	return free
}

func spansOf[E Entry](entries []E) []Interval {
	spans := make([]Interval, 0, len(entries))
	for _, e := range entries {
		spans = append(spans, e.Span())
	}
	return spans
}

func sortSpans(spans []Interval) {
	slices.SortStableFunc(spans, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})
}

func clip(s, bounds Interval) Interval {
	if s.Start.Before(bounds.Start) {
		s.Start = bounds.Start
	}
	if s.End.After(bounds.End) {
		s.End = bounds.End
	}
	return s
}
