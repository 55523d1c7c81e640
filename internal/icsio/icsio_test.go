package icsio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc-1\r\n" +
	"DTSTAMP:20251101T000000Z\r\n" +
	"DTSTART:20251125T170000Z\r\n" +
	"DTEND:20251125T180000Z\r\n" +
	"SUMMARY:Planning\r\n" +
	"LOCATION:Room 4\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc-2\r\n" +
	"DTSTAMP:20251101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20251126\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc-3\r\n" +
	"DTSTAMP:20251101T000000Z\r\n" +
	"DTSTART:20251125T180000Z\r\n" +
	"DTEND:20251125T170000Z\r\n" +
	"SUMMARY:Backwards\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestDecodeImportsValidAndReportsInvalid(t *testing.T) {
	items, err := Decode(strings.NewReader(sample), time.UTC)

	var verrs schedule.ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	require.Len(t, verrs, 1)
	assert.Equal(t, 2, verrs[0].Index)

	require.Len(t, items, 2)
	assert.Equal(t, "ics:abc-1", items[0].ExternalID())
	assert.Equal(t, "Planning", items[0].Fields.Title)
	assert.Equal(t, "Room 4", items[0].Fields.Location)
	assert.True(t, items[0].Fields.Start.Equal(time.Date(2025, 11, 25, 17, 0, 0, 0, time.UTC)))

	assert.True(t, items[1].Fields.AllDay)
	assert.Equal(t, 24*time.Hour, items[1].Fields.End.Sub(items[1].Fields.Start))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("not a calendar"), time.UTC)
	assert.Error(t, err)
}

func TestEncodeThenDecode(t *testing.T) {
	desc := "weekly"
	ext := "ics:keep-me"
	events := []store.Event{
		{ID: 1, Title: "Review", Description: &desc, Start: time.Date(2025, 11, 25, 15, 0, 0, 0, time.UTC), End: time.Date(2025, 11, 25, 16, 0, 0, 0, time.UTC)},
		{ID: 2, Title: "Offsite", AllDay: true, ExternalID: &ext, Start: time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, events, time.UTC, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, buf.String(), "PRODID:-//calassist//EN")

	items, err := Decode(&buf, time.UTC)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, UID(events[0]), items[0].UID)
	assert.Equal(t, "weekly", items[0].Fields.Description)
	assert.Equal(t, "keep-me", items[1].UID)
	assert.True(t, items[1].Fields.AllDay)
}

func TestEncodeAllDayUsesLocalDate(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		tokyo = time.FixedZone("JST", 9*3600)
	}
	start := time.Date(2025, 11, 25, 0, 0, 0, 0, tokyo).UTC()
	events := []store.Event{{ID: 3, Title: "Holiday", AllDay: true, Start: start, End: start.AddDate(0, 0, 1)}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, events, tokyo, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, buf.String(), "DTSTART;VALUE=DATE:20251125")
	assert.Contains(t, buf.String(), "DTEND;VALUE=DATE:20251126")

	items, err := Decode(&buf, tokyo)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Fields.AllDay)
	assert.True(t, items[0].Fields.Start.Equal(start), "start moved to %s", items[0].Fields.Start)
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil, time.UTC, time.Now()))
	assert.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calassist//EN\r\nEND:VCALENDAR\r\n", buf.String())
}

func TestUIDIsStable(t *testing.T) {
	ev := store.Event{ID: 9}
	assert.Equal(t, UID(ev), UID(ev))
	assert.NotEqual(t, UID(ev), UID(store.Event{ID: 10}))
}
