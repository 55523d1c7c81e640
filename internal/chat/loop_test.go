package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/store"
)

var (
	denver     = mustLocation("America/Denver")
	turnNow    = time.Date(2025, 11, 25, 8, 0, 0, 0, denver)
	quietLog   = slog.New(slog.NewTextHandler(io.Discard, nil))
	userAsking = []llm.Message{{Role: llm.RoleUser, Content: "Add standup at 9"}}
)

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MST", -7*3600)
	}
	return loc
}

func newTestLoop(model *scriptedLLM, events *fakeEvents) *Loop {
	return NewLoop(model, NewRegistry(events, denver, func() time.Time { return turnNow }), quietLog)
}

const standupArgs = `{"title":"Standup","start_time":"2025-11-25T09:00:00-07:00","end_time":"2025-11-25T09:15:00-07:00"}`

func TestRunPlainReply(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{content("Hi there")}}
	events := &fakeEvents{}

	res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.ReplyContent)
	assert.Nil(t, res.EventCreated)
	assert.Equal(t, []string{"first"}, model.phases())
	require.Len(t, model.requests[0].Tools, 2)
}

func TestRunCreateEventScenario(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{
		toolCall(ToolCreateEvent, standupArgs),
		content("Standup is on your calendar."),
	}}
	events := &fakeEvents{}

	res, err := newTestLoop(model, events).Run(context.Background(), 42, userAsking, RunOptions{})
	require.NoError(t, err)

	require.NotNil(t, res.EventCreated)
	assert.Equal(t, "Standup", res.EventCreated.Title)
	assert.Equal(t, int64(42), res.EventCreated.OwnerID)
	assert.True(t, res.EventCreated.Start.Equal(time.Date(2025, 11, 25, 16, 0, 0, 0, time.UTC)))
	assert.True(t, res.EventCreated.End.Equal(time.Date(2025, 11, 25, 16, 15, 0, 0, time.UTC)))
	assert.NotEmpty(t, res.ReplyContent)
	assert.Equal(t, 1, events.count())

	// The follow-up carries the tool-call message and the tool result.
	require.Len(t, model.requests, 2)
	followup := model.requests[1].Messages
	require.Len(t, followup, len(userAsking)+2)
	assert.Equal(t, llm.RoleAssistant, followup[1].Role)
	assert.Equal(t, llm.RoleTool, followup[2].Role)
	assert.Equal(t, "call_1", followup[2].ToolCallID)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(followup[2].Content), &result))
	assert.Equal(t, true, result["success"])
	assert.Empty(t, model.requests[1].Tools)
}

func TestRunSingleEffectWhenFollowupFails(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{
		toolCall(ToolCreateEvent, standupArgs),
		failure(&llm.UpstreamError{Status: 500, Body: "boom"}),
	}}
	events := &fakeEvents{}

	res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, events.count())
	require.NotNil(t, res.EventCreated)
	assert.Contains(t, res.ReplyContent, "Standup")
}

func TestRunFirstCallUpstreamError(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{failure(&llm.UpstreamError{Status: 503, Body: "unavailable"})}}
	events := &fakeEvents{}
	hookCalled := false

	_, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{
		OnFirstResponse: func(context.Context) error { hookCalled = true; return nil },
	})
	var ue *llm.UpstreamError
	require.True(t, errors.As(err, &ue), "got %v", err)
	assert.Equal(t, 503, ue.Status)
	assert.Equal(t, "unavailable", ue.Body)
	assert.False(t, hookCalled)
	assert.Zero(t, events.count())
}

func TestRunToolFailureSkipsFollowup(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{toolCall(ToolCreateEvent, standupArgs)}}
	events := &fakeEvents{failErr: errors.New("db down")}

	res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.EventCreated)
	assert.Contains(t, res.ReplyContent, "tried to create the event but encountered an error")
	assert.Contains(t, res.ReplyContent, "db down")
	assert.Len(t, model.requests, 1)
}

func TestRunRejectsInvalidArguments(t *testing.T) {
	cases := map[string]string{
		"missing title":   `{"start_time":"2025-11-25T09:00:00Z","end_time":"2025-11-25T10:00:00Z"}`,
		"end before":      `{"title":"x","start_time":"2025-11-25T10:00:00Z","end_time":"2025-11-25T09:00:00Z"}`,
		"unknown field":   `{"title":"x","start_time":"2025-11-25T09:00:00Z","end_time":"2025-11-25T10:00:00Z","attendees":["a"]}`,
		"malformed json":  `{"title":`,
		"unparsable time": `{"title":"x","start_time":"tomorrow","end_time":"2025-11-25T10:00:00Z"}`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			model := &scriptedLLM{replies: []scriptedReply{toolCall(ToolCreateEvent, args)}}
			events := &fakeEvents{}

			res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
			require.NoError(t, err)
			assert.Zero(t, events.count())
			assert.Nil(t, res.EventCreated)
			assert.Contains(t, res.ReplyContent, "encountered an error")
			assert.Len(t, model.requests, 1)
		})
	}
}

func TestRunCreatesSingleDateAllDayEvent(t *testing.T) {
	args := `{"title":"Holiday","start_time":"2025-11-26","end_time":"2025-11-26","all_day":true}`
	model := &scriptedLLM{replies: []scriptedReply{toolCall(ToolCreateEvent, args), content("Added your holiday.")}}
	events := &fakeEvents{}

	res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.EventCreated)
	assert.True(t, res.EventCreated.AllDay)
	assert.True(t, res.EventCreated.Start.Equal(time.Date(2025, 11, 26, 0, 0, 0, 0, denver)))
	assert.True(t, res.EventCreated.End.Equal(time.Date(2025, 11, 27, 0, 0, 0, 0, denver)))
}

func TestRunRecordsRejectedToolCall(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	model := &scriptedLLM{replies: []scriptedReply{toolCall(ToolCreateEvent, `{"title":`)}}
	_, err := newTestLoop(model, &fakeEvents{}).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)

	var tool []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "tool."+ToolCreateEvent {
			tool = append(tool, s)
		}
	}
	require.Len(t, tool, 1)
	assert.Equal(t, codes.Error, tool[0].Status().Code)
}

func TestRunTodaySchedule(t *testing.T) {
	events := &fakeEvents{}
	_, err := events.Create(context.Background(), 1, mustFields(t, "Dentist", "2025-11-25T14:00:00-07:00", "2025-11-25T15:00:00-07:00"))
	require.NoError(t, err)
	_, err = events.Create(context.Background(), 1, mustFields(t, "Tomorrow", "2025-11-26T14:00:00-07:00", "2025-11-26T15:00:00-07:00"))
	require.NoError(t, err)
	_, err = events.Create(context.Background(), 2, mustFields(t, "Not mine", "2025-11-25T10:00:00-07:00", "2025-11-25T11:00:00-07:00"))
	require.NoError(t, err)

	model := &scriptedLLM{replies: []scriptedReply{toolCall(ToolTodaySchedule, ""), content("You have a dentist appointment.")}}
	res, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.EventCreated)
	assert.Equal(t, "You have a dentist appointment.", res.ReplyContent)

	var result struct {
		Count  int              `json:"count"`
		Date   string           `json:"date"`
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.ToolResult), &result))
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, "2025-11-25", result.Date)
	assert.Equal(t, "Dentist", result.Events[0]["title"])
}

func TestRunUnknownToolFallsThrough(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{{msg: &llm.Message{
		Content:   "Let me think.",
		ToolCalls: []llm.ToolCall{{ID: "c", Function: llm.FunctionCall{Name: "delete_everything", Arguments: "{}"}}},
	}}}}

	res, err := newTestLoop(model, &fakeEvents{}).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Let me think.", res.ReplyContent)
	assert.Len(t, model.requests, 1)
}

func TestRunExecutesOnlyFirstToolCall(t *testing.T) {
	model := &scriptedLLM{replies: []scriptedReply{
		{msg: &llm.Message{ToolCalls: []llm.ToolCall{
			{ID: "a", Function: llm.FunctionCall{Name: ToolCreateEvent, Arguments: standupArgs}},
			{ID: "b", Function: llm.FunctionCall{Name: ToolCreateEvent, Arguments: standupArgs}},
		}}},
		content("Created."),
	}}
	events := &fakeEvents{}

	_, err := newTestLoop(model, events).Run(context.Background(), 1, userAsking, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, events.count())
	followup := model.requests[1].Messages
	require.Len(t, followup[1].ToolCalls, 1)
	assert.Equal(t, "a", followup[1].ToolCalls[0].ID)
}

func mustFields(t *testing.T, title, start, end string) store.EventFields {
	t.Helper()
	f, err := CreateEventArgs{Title: title, StartTime: start, EndTime: end}.Fields(denver)
	require.NoError(t, err)
	return f
}
