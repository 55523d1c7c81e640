package api

import (
	"net/http"
	"strings"
	"time"

	httperrors "github.com/jw6ventures/calassist/internal/http/errors"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"allDay"`
}

// fields parses the request times in loc. An all-day event without an end
// lasts one day.
func (in eventRequest) fields(loc *time.Location) (store.EventFields, error) {
	f := store.EventFields{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Location:    strings.TrimSpace(in.Location),
		AllDay:      in.AllDay,
	}
	start, err := schedule.ParseTime(in.Start, loc)
	if err != nil {
		return f, &schedule.ValidationError{Index: -1, Field: "start", Reason: err.Error()}
	}
	f.Start = start
	if in.End == "" && in.AllDay {
		y, m, d := start.In(loc).Date()
		f.Start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		f.End = f.Start.AddDate(0, 0, 1)
	} else {
		end, err := schedule.ParseTime(in.End, loc)
		if err != nil {
			return f, &schedule.ValidationError{Index: -1, Field: "end", Reason: err.Error()}
		}
		f.End = end
	}
	return f, f.Validate()
}

type eventResponse struct {
	Event     *store.Event  `json:"event"`
	Conflicts []store.Event `json:"conflicts"`
}

// ListEvents returns the owner's events, optionally narrowed by ?date= or
// by a ?from=&to= date range.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var (
		events []store.Event
		err    error
	)
	switch {
	case q.Get("date") != "":
		date, perr := schedule.ParseDate(q.Get("date"))
		if perr != nil {
			httperrors.BadRequestError(w, r, perr, "date must be YYYY-MM-DD")
			return
		}
		events, err = h.store.Events.ListByOwnerOnDate(r.Context(), owner, date, h.loc)
	case q.Get("from") != "" || q.Get("to") != "":
		from, ferr := schedule.ParseDate(q.Get("from"))
		to, terr := schedule.ParseDate(q.Get("to"))
		if ferr != nil || terr != nil {
			httperrors.BadRequestError(w, r, nil, "from and to must both be YYYY-MM-DD")
			return
		}
		// to is inclusive
		events, err = h.store.Events.ListByOwnerRange(r.Context(), owner, from.At(0, h.loc), to.At(24, h.loc))
	default:
		events, err = h.store.Events.ListByOwner(r.Context(), owner)
	}
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"events": events})
}

// CreateEvent stores an event and reports the events it overlaps. Overlaps
// do not block creation.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in eventRequest
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event payload")
		return
	}
	fields, err := in.fields(h.loc)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}

	conflicts, err := h.conflicts(r, owner, fields, 0)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	ev, err := h.store.Events.Create(r.Context(), owner, fields)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}
	httperrors.LogInfo(r, "event created", "event_id", ev.ID)
	httperrors.JSON(w, http.StatusCreated, eventResponse{Event: ev, Conflicts: conflicts})
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	ev, err := h.store.Events.GetByID(r.Context(), id, owner)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}
	httperrors.JSON(w, http.StatusOK, ev)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	var in eventRequest
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event payload")
		return
	}
	fields, err := in.fields(h.loc)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}
	conflicts, err := h.conflicts(r, owner, fields, id)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	ev, err := h.store.Events.Update(r.Context(), id, owner, fields)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}
	httperrors.JSON(w, http.StatusOK, eventResponse{Event: ev, Conflicts: conflicts})
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}
	n, err := h.store.Events.Delete(r.Context(), id, owner)
	if err != nil {
		h.fail(w, r, err, "event")
		return
	}
	if n == 0 {
		httperrors.NotFound(w, r, "event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// overlapLookback bounds how long before a candidate an event may start and
// still be considered for conflicts.
const overlapLookback = 7 * 24 * time.Hour

type overlapRequest struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	ExcludeID int64  `json:"excludeId"`
}

// CheckOverlap reports which stored events a candidate range conflicts with.
func (h *Handler) CheckOverlap(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in overlapRequest
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid overlap payload")
		return
	}
	fields, err := eventRequest{Title: "candidate", Start: in.Start, End: in.End}.fields(h.loc)
	if err != nil {
		h.fail(w, r, err, "interval")
		return
	}
	conflicts, err := h.conflicts(r, owner, fields, in.ExcludeID)
	if err != nil {
		h.fail(w, r, err, "events")
		return
	}
	httperrors.JSON(w, http.StatusOK, schedule.OverlapResult[store.Event]{
		HasOverlap: len(conflicts) > 0,
		Conflicts:  conflicts,
	})
}

// conflicts loads the events around the candidate and checks them. exclude
// skips the event being edited.
func (h *Handler) conflicts(r *http.Request, owner int64, f store.EventFields, exclude int64) ([]store.Event, error) {
	candidate := schedule.Interval{Start: f.Start, End: f.End}
	existing, err := h.store.Events.ListByOwnerRange(r.Context(), owner, f.Start.Add(-overlapLookback), f.End)
	if err != nil {
		return nil, err
	}
	others := existing[:0:0]
	for _, ev := range existing {
		if ev.ID != exclude {
			others = append(others, ev)
		}
	}
	return schedule.CheckOverlap(candidate, others).Conflicts, nil
}
