package schedule

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCompareMergesBothCalendars(t *testing.T) {
	mine := []testEvent{ev("standup", 9, 0, 9, 30), ev("lunch", 12, 0, 13, 0)}
	theirs := []ExtractedEvent{
		{Title: "review", StartTime: "2025-11-25T10:00:00", EndTime: "2025-11-25T11:00:00"},
		{Title: "gym", StartTime: "2025-11-25T12:30:00-07:00", EndTime: "2025-11-25T14:00:00-07:00"},
		{Title: "other day", StartTime: "2025-11-26T09:00", EndTime: "2025-11-26T17:00"},
	}

	got, err := Compare(mine, theirs, testDay, workday, denver, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	want := []Interval{
		{at(9, 30), at(10, 0)},
		{at(11, 0), at(12, 0)},
		{at(14, 0), at(17, 0)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCompareRejectsInvalidExtractedEvents(t *testing.T) {
	theirs := []ExtractedEvent{
		{Title: "ok", StartTime: "2025-11-25T10:00", EndTime: "2025-11-25T11:00"},
		{Title: "inverted", StartTime: "2025-11-25T12:00", EndTime: "2025-11-25T11:00"},
		{Title: "garbage", StartTime: "around noon", EndTime: "2025-11-25T13:00"},
	}
	_, err := Compare([]testEvent{}, theirs, testDay, workday, denver, CompareOptions{})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(verrs), verrs)
	}
	if verrs[0].Index != 1 || verrs[1].Index != 2 {
		t.Errorf("unexpected indexes: %d, %d", verrs[0].Index, verrs[1].Index)
	}
	if verrs[1].Field != "start_time" {
		t.Errorf("expected start_time field, got %q", verrs[1].Field)
	}
}

func TestCompareExcludeAllDay(t *testing.T) {
	mine := []testEvent{{
		name:   "holiday",
		start:  time.Date(2025, time.November, 25, 0, 0, 0, 0, denver),
		end:    time.Date(2025, time.November, 26, 0, 0, 0, 0, denver),
		allDay: true,
	}}
	theirs := []ExtractedEvent{{Title: "conference", StartTime: "2025-11-25", EndTime: "2025-11-25", AllDay: true}}

	got, err := Compare(mine, theirs, testDay, workday, denver, CompareOptions{ExcludeAllDay: true})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(at(9, 0)) || !got[0].End.Equal(at(17, 0)) {
		t.Fatalf("expected whole window free, got %v", got)
	}

	got, err = Compare(mine, theirs, testDay, workday, denver, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected all-day events to block the window, got %v", got)
	}
}

func TestCompareIsIdempotent(t *testing.T) {
	mine := []testEvent{ev("b", 13, 0, 14, 0), ev("a", 10, 0, 11, 0)}
	theirs := []ExtractedEvent{{Title: "x", StartTime: "2025-11-25T10:30", EndTime: "2025-11-25T12:00"}}

	first, err := Compare(mine, theirs, testDay, workday, denver, CompareOptions{ExcludeAllDay: true})
	if err != nil {
		t.Fatalf("first Compare: %v", err)
	}
	second, err := Compare(mine, theirs, testDay, workday, denver, CompareOptions{ExcludeAllDay: true})
	if err != nil {
		t.Fatalf("second Compare: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ: %v vs %v", first, second)
	}
	if mine[0].name != "b" {
		t.Fatal("input slice was reordered")
	}
}

func TestParseTimeLayouts(t *testing.T) {
	for _, v := range []string{"2025-11-25T09:00:00-07:00", "2025-11-25T09:00:00", "2025-11-25T09:00", "2025-11-25 09:00"} {
		got, err := ParseTime(v, denver)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", v, err)
			continue
		}
		if !got.Equal(at(9, 0)) {
			t.Errorf("ParseTime(%q) = %v, want %v", v, got, at(9, 0))
		}
	}
	if _, err := ParseTime("", denver); err == nil {
		t.Error("expected error for empty string")
	}
}
