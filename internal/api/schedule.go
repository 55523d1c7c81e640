package api

import (
	"net/http"
	"strconv"

	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

type dashboardResponse struct {
	schedule.DayAvailability
	Events []store.Event `json:"events"`
}

// Dashboard returns the day's events with the free time left in the working window.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	date, err := h.dateParam(r, "date")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "date must be YYYY-MM-DD")
		return
	}
	events, err := h.store.Events.ListByOwnerOnDate(r.Context(), owner, date, h.loc)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	avail, err := schedule.Availability(events, date, h.window, h.loc)
	if err != nil {
		h.fail(w, r, err, "availability")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	httperrors.JSON(w, http.StatusOK, dashboardResponse{DayAvailability: avail, Events: events})
}

// Availability computes free slots for ?date= with optional ?start=&end= hours.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	date, err := h.dateParam(r, "date")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "date must be YYYY-MM-DD")
		return
	}
	window := h.window
	for _, p := range []struct {
		name string
		dst  *int
	}{{"start", &window.StartHour}, {"end", &window.EndHour}} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			httperrors.BadRequestError(w, r, err, p.name+" must be an hour between 0 and 24")
			return
		}
		*p.dst = n
	}

	events, err := h.store.Events.ListByOwnerOnDate(r.Context(), owner, date, h.loc)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	avail, err := schedule.Availability(events, date, window, h.loc)
	if err != nil {
		h.fail(w, r, err, "availability")
		return
	}
	httperrors.JSON(w, http.StatusOK, avail)
}

type compareRequest struct {
	Date          schedule.Date             `json:"date"`
	TheirEvents   []schedule.ExtractedEvent `json:"theirEvents"`
	DayStart      *int                      `json:"dayStart"`
	DayEnd        *int                      `json:"dayEnd"`
	ExcludeAllDay *bool                     `json:"excludeAllDay"`
}

type compareResponse struct {
	Date           schedule.Date       `json:"date"`
	Window         schedule.Interval   `json:"window"`
	FreeSlots      []schedule.Interval `json:"freeSlots"`
	TotalFreeHours float64             `json:"totalFreeHours"`
}

// Compare finds the free time common to the owner and another person's
// events. Any invalid event of theirs rejects the whole request.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in compareRequest
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid compare payload")
		return
	}
	if in.Date.IsZero() {
		in.Date = schedule.Today(h.now(), h.loc)
	}
	window := h.window
	if in.DayStart != nil {
		window.StartHour = *in.DayStart
	}
	if in.DayEnd != nil {
		window.EndHour = *in.DayEnd
	}
	opts := schedule.CompareOptions{ExcludeAllDay: h.excludeAllDay}
	if in.ExcludeAllDay != nil {
		opts.ExcludeAllDay = *in.ExcludeAllDay
	}

	mine, err := h.store.Events.ListByOwnerOnDate(r.Context(), owner, in.Date, h.loc)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	slots, err := schedule.Compare(mine, in.TheirEvents, in.Date, window, h.loc, opts)
	if err != nil {
		h.fail(w, r, err, "comparison")
		return
	}
	if slots == nil {
		slots = []schedule.Interval{}
	}
	httperrors.JSON(w, http.StatusOK, compareResponse{
		Date:           in.Date,
		Window:         window.On(in.Date, h.loc),
		FreeSlots:      slots,
		TotalFreeHours: schedule.TotalFreeHours(slots),
	})
}

type extractRequest struct {
	Image string        `json:"image"`
	Date  schedule.Date `json:"date"`
}

type extractResponse struct {
	Events  []schedule.ExtractedEvent `json:"events"`
	Warning string                    `json:"warning,omitempty"`
}

// ExtractCompare reads events out of a screenshot so the user can review
// them before comparing. Recognition failures return an empty list.
func (h *Handler) ExtractCompare(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in extractRequest
	if err := decodeJSON(w, r, maxImageBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid extract payload")
		return
	}
	if !validImageURL(in.Image) {
		httperrors.BadRequestError(w, r, nil, "image must be an https or data:image URL")
		return
	}
	if in.Date.IsZero() {
		in.Date = schedule.Today(h.now(), h.loc)
	}

	events, err := h.extractor.Events(r.Context(), in.Image, in.Date, h.loc)
	resp := extractResponse{Events: events}
	if resp.Events == nil {
		resp.Events = []schedule.ExtractedEvent{}
	}
	if err != nil {
		h.logger.Warn("schedule extraction failed", logging.Owner(owner), logging.Err(err))
		resp.Warning = "could not read events from the image"
	}
	httperrors.JSON(w, http.StatusOK, resp)
}
