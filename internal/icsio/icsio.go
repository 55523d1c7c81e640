// Package icsio converts between iCalendar files and stored events.
package icsio

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

const productID = "-//calassist//EN"

// ExternalIDPrefix marks events imported from an ICS file.
const ExternalIDPrefix = "ics:"

// Item is one importable VEVENT.
type Item struct {
	UID    string
	Fields store.EventFields
}

// ExternalID is the upsert key for the item.
func (it Item) ExternalID() string {
	return ExternalIDPrefix + it.UID
}

// Decode reads every VEVENT from r. Floating times are read in loc. Events
// that cannot be imported are reported in the returned ValidationErrors,
// indexed by their position among the file's VEVENTs, while the valid ones
// are still returned.
func Decode(r io.Reader, loc *time.Location) ([]Item, error) {
	dec := ical.NewDecoder(r)
	var items []Item
	var invalid schedule.ValidationErrors
	index := 0
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse ics: %w", err)
		}
		for _, ev := range cal.Events() {
			item, err := toItem(ev, loc)
			if err != nil {
				var verr *schedule.ValidationError
				if !errors.As(err, &verr) {
					verr = &schedule.ValidationError{Reason: err.Error()}
				}
				verr.Index = index
				invalid = append(invalid, verr)
			} else {
				items = append(items, item)
			}
			index++
		}
	}
	if len(invalid) > 0 {
		return items, invalid
	}
	return items, nil
}

func toItem(ev ical.Event, loc *time.Location) (Item, error) {
	uid, err := ev.Props.Text(ical.PropUID)
	if err != nil || strings.TrimSpace(uid) == "" {
		return Item{}, &schedule.ValidationError{Field: "UID", Reason: "missing UID"}
	}
	start, err := ev.DateTimeStart(loc)
	if err != nil || start.IsZero() {
		return Item{}, &schedule.ValidationError{Field: "DTSTART", Reason: "missing or invalid start"}
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil {
		return Item{}, &schedule.ValidationError{Field: "DTEND", Reason: err.Error()}
	}
	allDay := false
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		allDay = true
	}
	if allDay && !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	summary, _ := ev.Props.Text(ical.PropSummary)
	description, _ := ev.Props.Text(ical.PropDescription)
	location, _ := ev.Props.Text(ical.PropLocation)
	if strings.TrimSpace(summary) == "" {
		summary = "(untitled)"
	}

	fields := store.EventFields{
		Title:       strings.TrimSpace(summary),
		Description: strings.TrimSpace(description),
		Location:    strings.TrimSpace(location),
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}
	if err := fields.Validate(); err != nil {
		return Item{}, err
	}
	return Item{UID: uid, Fields: fields}, nil
}

// Encode writes events as a single VCALENDAR. All-day dates are taken in loc.
func Encode(w io.Writer, events []store.Event, loc *time.Location, now time.Time) error {
	if len(events) == 0 {
		// go-ical refuses a calendar without components.
		_, err := io.WriteString(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:"+productID+"\r\nEND:VCALENDAR\r\n")
		return err
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	for _, ev := range events {
		cal.Children = append(cal.Children, toComponent(ev, loc, now))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}

func toComponent(ev store.Event, loc *time.Location, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, UID(ev))
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	if ev.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, ev.Start.In(loc))
		ve.Props.SetDate(ical.PropDateTimeEnd, ev.End.In(loc))
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	}
	if ev.Description != nil && *ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, *ev.Description)
	}
	if ev.Location != nil && *ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, *ev.Location)
	}
	return ve
}

// UID returns the iCalendar UID for ev. Events imported from ICS keep their
// original UID; others get a stable name-based UUID.
func UID(ev store.Event) string {
	if ev.ExternalID != nil && strings.HasPrefix(*ev.ExternalID, ExternalIDPrefix) {
		return strings.TrimPrefix(*ev.ExternalID, ExternalIDPrefix)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("calassist:event:%d", ev.ID))).String()
}
