package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/store"
)

// Completer sends one chat-completion request.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Message, error)
}

// State is a step of a single chat turn.
type State int

const (
	AwaitingFirstResponse State = iota
	NoToolCall
	ToolCallDetected
	ExecutingTool
	AwaitingFollowupResponse
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingFirstResponse:
		return "awaiting_first_response"
	case NoToolCall:
		return "no_tool_call"
	case ToolCallDetected:
		return "tool_call_detected"
	case ExecutingTool:
		return "executing_tool"
	case AwaitingFollowupResponse:
		return "awaiting_followup_response"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TurnResult is the outcome of Loop.Run.
type TurnResult struct {
	ReplyContent string
	EventCreated *store.Event
	// Tool names the executed tool, empty when none ran.
	Tool string
	// ToolResult is the serialized result handed to the follow-up request.
	ToolResult string
}

// Replies used when the model cannot supply one.
const (
	fallbackReply        = "Sorry, I wasn't able to help with that request."
	createdFallbackReply = "I've created the event %q for you."
	scheduleFallback     = "You have %d event(s) on your calendar today."
)

// Loop runs the two-pass tool-calling exchange for one user turn.
type Loop struct {
	llm    Completer
	tools  *Registry
	logger *slog.Logger
}

func NewLoop(c Completer, tools *Registry, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{llm: c, tools: tools, logger: logger}
}

// RunOptions hooks into a turn.
type RunOptions struct {
	// OnFirstResponse runs once the first model call has succeeded and before
	// any tool executes. An error aborts the turn.
	OnFirstResponse func(ctx context.Context) error
}

// Run sends history to the model. When the first reply requests a tool, the
// first requested tool is executed exactly once and the model is asked again
// with the tool result. Only a failed first call is returned as an error
// (wrapping *llm.UpstreamError for non-2xx answers); tool and follow-up
// failures are folded into the reply.
func (l *Loop) Run(ctx context.Context, owner int64, history []llm.Message, opts RunOptions) (*TurnResult, error) {
	state := AwaitingFirstResponse
	l.trace(state)

	first, err := l.llm.Complete(ctx, llm.Request{
		Messages: history,
		Tools:    l.tools.Tools(),
		Phase:    metrics.PhaseFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("first model call: %w", err)
	}
	if opts.OnFirstResponse != nil {
		if err := opts.OnFirstResponse(ctx); err != nil {
			return nil, err
		}
	}

	if len(first.ToolCalls) == 0 {
		state = NoToolCall
		l.trace(state)
		return l.finish(&TurnResult{ReplyContent: replyOr(first.Content, fallbackReply)}), nil
	}

	state = ToolCallDetected
	l.trace(state)
	call := first.ToolCalls[0]
	if extra := len(first.ToolCalls) - 1; extra > 0 {
		l.logger.Warn("model requested multiple tool calls; only the first is executed",
			logging.Tool(call.Function.Name), slog.Int("ignored", extra))
	}

	args, err := ParseArgs(call)
	if errors.Is(err, ErrUnknownTool) {
		l.logger.Warn("model requested unknown tool", logging.Tool(call.Function.Name))
		return l.finish(&TurnResult{ReplyContent: replyOr(first.Content, fallbackReply)}), nil
	}

	state = ExecutingTool
	l.trace(state)
	var outcome *Outcome
	if err != nil {
		l.tools.Reject(ctx, owner, call.Function.Name, err)
	} else {
		outcome, err = l.tools.Execute(ctx, owner, args)
	}
	if err != nil {
		l.logger.Error("tool execution failed", logging.Tool(call.Function.Name), logging.Owner(owner), logging.Err(err))
		return l.finish(&TurnResult{ReplyContent: toolFailureReply(call.Function.Name, err)}), nil
	}

	resultJSON, err := json.Marshal(outcome.Result)
	if err != nil {
		// The side effect already happened; report it without the model.
		l.logger.Error("encode tool result", logging.Tool(outcome.Tool), logging.Err(err))
		return l.finish(&TurnResult{ReplyContent: confirmation(outcome), EventCreated: outcome.Event, Tool: outcome.Tool}), nil
	}

	state = AwaitingFollowupResponse
	l.trace(state)
	executed := llm.Message{Role: llm.RoleAssistant, Content: first.Content, ToolCalls: []llm.ToolCall{normalizeCall(call)}}
	followup := make([]llm.Message, 0, len(history)+2)
	followup = append(followup, history...)
	followup = append(followup, executed, llm.Message{Role: llm.RoleTool, Content: string(resultJSON), ToolCallID: executed.ToolCalls[0].ID})

	result := &TurnResult{EventCreated: outcome.Event, Tool: outcome.Tool, ToolResult: string(resultJSON)}
	second, err := l.llm.Complete(ctx, llm.Request{Messages: followup, Phase: metrics.PhaseFollowup})
	if err != nil {
		l.logger.Warn("follow-up model call failed; using canned confirmation", logging.Tool(outcome.Tool), logging.Err(err))
		result.ReplyContent = confirmation(outcome)
		return l.finish(result), nil
	}
	result.ReplyContent = replyOr(second.Content, confirmation(outcome))
	return l.finish(result), nil
}

func (l *Loop) finish(r *TurnResult) *TurnResult {
	l.trace(Done)
	return r
}

func (l *Loop) trace(s State) {
	l.logger.Debug("chat turn", slog.String("state", s.String()))
}

// normalizeCall fills fields some providers omit so the follow-up request is
// well formed.
func normalizeCall(c llm.ToolCall) llm.ToolCall {
	if c.Type == "" {
		c.Type = "function"
	}
	if c.ID == "" {
		c.ID = "call_0"
	}
	return c
}

func replyOr(content, fallback string) string {
	if content == "" {
		return fallback
	}
	return content
}

func toolFailureReply(tool string, err error) string {
	action := "run " + tool
	switch tool {
	case ToolCreateEvent:
		action = "create the event"
	case ToolTodaySchedule:
		action = "look up today's schedule"
	}
	return fmt.Sprintf("I tried to %s but encountered an error: %v", action, err)
}

func confirmation(o *Outcome) string {
	switch o.Tool {
	case ToolCreateEvent:
		if o.Event != nil {
			return fmt.Sprintf(createdFallbackReply, o.Event.Title)
		}
	case ToolTodaySchedule:
		if n, ok := o.Result["count"].(int); ok {
			return fmt.Sprintf(scheduleFallback, n)
		}
	}
	return "Done."
}
