package schedule

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Index: -1, Field: "date", Reason: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return DateOf(t), nil
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the civil date of now in loc.
func Today(now time.Time, loc *time.Location) Date {
	return DateOf(now.In(loc))
}

// Holds reports whether t falls on d in loc's civil time. This compares
// year/month/day rather than a UTC range so events near midnight are not
// attributed to the neighbouring day.
func (d Date) Holds(t time.Time, loc *time.Location) bool {
	return DateOf(t.In(loc)) == d
}

// At returns the instant hour:00 on d in loc. Hour 24 is the following midnight.
func (d Date) At(hour int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, 0, 0, 0, loc)
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Window is the working-hours range of a day, in whole hours.
type Window struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// Validate checks 0 <= start < end <= 24.
func (w Window) Validate() error {
	if w.StartHour < 0 || w.StartHour > 24 {
		return &ValidationError{Index: -1, Field: "dayStart", Reason: fmt.Sprintf("hour %d out of range 0-24", w.StartHour)}
	}
	if w.EndHour < 0 || w.EndHour > 24 {
		return &ValidationError{Index: -1, Field: "dayEnd", Reason: fmt.Sprintf("hour %d out of range 0-24", w.EndHour)}
	}
	if w.EndHour <= w.StartHour {
		return &ValidationError{Index: -1, Field: "dayEnd", Reason: fmt.Sprintf("end hour %d must be after start hour %d", w.EndHour, w.StartHour)}
	}
	return nil
}

// On anchors the window to a date in loc.
func (w Window) On(d Date, loc *time.Location) Interval {
	return Interval{Start: d.At(w.StartHour, loc), End: d.At(w.EndHour, loc)}
}
