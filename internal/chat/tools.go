package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
	"github.com/jw6ventures/calassist/internal/tracing"
)

// Tool names offered to the model.
const (
	ToolCreateEvent   = "create_event"
	ToolTodaySchedule = "get_today_schedule"
)

// ErrUnknownTool is returned for tool calls naming a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports a missing or malformed tool argument.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Field, e.Reason)
}

// EventStore is the slice of event persistence the tools need.
type EventStore interface {
	Create(ctx context.Context, ownerID int64, fields store.EventFields) (*store.Event, error)
	ListByOwnerOnDate(ctx context.Context, ownerID int64, date schedule.Date, loc *time.Location) ([]store.Event, error)
}

// Args is the decoded argument set of one tool call. The concrete type
// identifies the tool.
type Args interface {
	toolName() string
}

// CreateEventArgs are the arguments of create_event.
type CreateEventArgs struct {
	Title       string `json:"title"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
}

func (CreateEventArgs) toolName() string { return ToolCreateEvent }

// Fields validates the arguments and converts them to event fields. Times
// without an offset are read in loc.
func (a CreateEventArgs) Fields(loc *time.Location) (store.EventFields, error) {
	title := strings.TrimSpace(a.Title)
	if title == "" {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(a.StartTime) == "" {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "start_time", Reason: "is required"}
	}
	if strings.TrimSpace(a.EndTime) == "" {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "end_time", Reason: "is required"}
	}
	start, err := schedule.ParseTime(a.StartTime, loc)
	if err != nil {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "start_time", Reason: err.Error()}
	}
	end, err := schedule.ParseTime(a.EndTime, loc)
	if err != nil {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "end_time", Reason: err.Error()}
	}
	if a.AllDay && !end.After(start) && schedule.DateOf(start.In(loc)) == schedule.DateOf(end.In(loc)) {
		// A single-date all-day event covers the whole day.
		end = start.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return store.EventFields{}, &ValidationError{Tool: ToolCreateEvent, Field: "end_time", Reason: "must be after start_time"}
	}
	return store.EventFields{
		Title:       title,
		Description: strings.TrimSpace(a.Description),
		Location:    strings.TrimSpace(a.Location),
		Start:       start,
		End:         end,
		AllDay:      a.AllDay,
	}, nil
}

// TodayScheduleArgs are the (empty) arguments of get_today_schedule.
type TodayScheduleArgs struct{}

func (TodayScheduleArgs) toolName() string { return ToolTodaySchedule }

// ParseArgs decodes a tool call into its typed arguments. Unknown tools yield
// ErrUnknownTool; unknown fields and malformed JSON are rejected.
func ParseArgs(call llm.ToolCall) (Args, error) {
	raw := strings.TrimSpace(call.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	switch call.Function.Name {
	case ToolCreateEvent:
		var args CreateEventArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, &ValidationError{Tool: ToolCreateEvent, Reason: err.Error()}
		}
		return args, nil
	case ToolTodaySchedule:
		var args TodayScheduleArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, &ValidationError{Tool: ToolTodaySchedule, Reason: err.Error()}
		}
		return args, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Function.Name)
	}
}

func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if dec.More() {
		return errors.New("invalid arguments: trailing data")
	}
	return nil
}

// Registry holds the tools offered to the model and executes them for an owner.
type Registry struct {
	events EventStore
	loc    *time.Location
	now    func() time.Time
}

// NewRegistry builds the registry. "Today" is the civil date of now() in loc.
func NewRegistry(events EventStore, loc *time.Location, now func() time.Time) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{events: events, loc: loc, now: now}
}

// Tools returns the JSON-schema descriptions sent with every first request.
func (r *Registry) Tools() []llm.Tool {
	return []llm.Tool{
		{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        ToolCreateEvent,
				Description: "Create a calendar event for the user.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"title":       {Type: jsonschema.String, Description: "Short event title"},
						"start_time":  {Type: jsonschema.String, Description: "Start in ISO 8601 / RFC 3339, e.g. 2025-11-25T09:00:00-07:00"},
						"end_time":    {Type: jsonschema.String, Description: "End in ISO 8601 / RFC 3339; must be after start_time"},
						"description": {Type: jsonschema.String, Description: "Optional details"},
						"location":    {Type: jsonschema.String, Description: "Optional location"},
						"all_day":     {Type: jsonschema.Boolean, Description: "True for an all-day event; use dates like 2025-11-26. The end date is exclusive, and an end equal to the start means one day"},
					},
					Required: []string{"title", "start_time", "end_time"},
				},
			},
		},
		{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        ToolTodaySchedule,
				Description: "List the user's events for today.",
				Parameters: jsonschema.Definition{
					Type:       jsonschema.Object,
					Properties: map[string]jsonschema.Definition{},
				},
			},
		},
	}
}

// Outcome is the result of one executed tool call.
type Outcome struct {
	Tool string
	// Result is serialized into the tool message for the follow-up request.
	Result map[string]any
	// Event is set when create_event persisted a row.
	Event *store.Event
}

// Execute runs args for owner. create_event writes exactly one row per call.
func (r *Registry) Execute(ctx context.Context, owner int64, args Args) (out *Outcome, err error) {
	ctx, span := tracing.StartToolSpan(ctx, args.toolName(), owner)
	defer func() {
		tracing.End(span, err)
		metrics.IncToolInvocation(args.toolName(), err)
	}()

	switch a := args.(type) {
	case CreateEventArgs:
		fields, err := a.Fields(r.loc)
		if err != nil {
			return nil, err
		}
		ev, err := r.events.Create(ctx, owner, fields)
		if err != nil {
			return nil, fmt.Errorf("create event: %w", err)
		}
		return &Outcome{
			Tool:   ToolCreateEvent,
			Result: map[string]any{"success": true, "event": eventView(*ev, r.loc)},
			Event:  ev,
		}, nil
	case TodayScheduleArgs:
		today := schedule.Today(r.now(), r.loc)
		events, err := r.events.ListByOwnerOnDate(ctx, owner, today, r.loc)
		if err != nil {
			return nil, fmt.Errorf("list today's events: %w", err)
		}
		views := make([]map[string]any, 0, len(events))
		for _, ev := range events {
			views = append(views, eventView(ev, r.loc))
		}
		return &Outcome{
			Tool: ToolTodaySchedule,
			Result: map[string]any{
				"success":  true,
				"date":     today.String(),
				"timezone": r.loc.String(),
				"count":    len(events),
				"events":   views,
			},
		}, nil
	default:
		return nil, ErrUnknownTool
	}
}

// Reject records a call whose arguments never reached Execute.
func (r *Registry) Reject(ctx context.Context, owner int64, tool string, err error) {
	_, span := tracing.StartToolSpan(ctx, tool, owner)
	tracing.End(span, err)
	metrics.IncToolInvocation(tool, err)
}

func eventView(ev store.Event, loc *time.Location) map[string]any {
	v := map[string]any{
		"id":      ev.ID,
		"title":   ev.Title,
		"start":   ev.Start.In(loc).Format(time.RFC3339),
		"end":     ev.End.In(loc).Format(time.RFC3339),
		"all_day": ev.AllDay,
	}
	if ev.Description != nil {
		v["description"] = *ev.Description
	}
	if ev.Location != nil {
		v["location"] = *ev.Location
	}
	return v
}
