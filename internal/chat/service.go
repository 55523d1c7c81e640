package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	Create(ctx context.Context, ownerID int64, title string) (*store.Conversation, error)
	Get(ctx context.Context, id string, ownerID int64) (*store.Conversation, error)
	Rename(ctx context.Context, id string, ownerID int64, title string) error
	Touch(ctx context.Context, id string) error
}

// MessageStore persists conversation messages.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, role store.Role, content string, imageRef *string) (*store.Message, error)
	List(ctx context.Context, conversationID string) ([]store.Message, error)
}

// ErrEmptyMessage is returned when a turn has neither text nor image.
var ErrEmptyMessage = errors.New("message text or image is required")

const titleFallbackLen = 50

// Service runs chat turns against stored conversations.
type Service struct {
	llm           Completer
	loop          *Loop
	conversations ConversationStore
	messages      MessageStore
	loc           *time.Location
	now           func() time.Time
	logger        *slog.Logger
}

// ServiceOptions wires a Service.
type ServiceOptions struct {
	LLM           Completer
	Events        EventStore
	Conversations ConversationStore
	Messages      MessageStore
	Location      *time.Location
	Now           func() time.Time
	Logger        *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	registry := NewRegistry(opts.Events, opts.Location, opts.Now)
	return &Service{
		llm:           opts.LLM,
		loop:          NewLoop(opts.LLM, registry, opts.Logger),
		conversations: opts.Conversations,
		messages:      opts.Messages,
		loc:           opts.Location,
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// SendInput is one user turn.
type SendInput struct {
	// ConversationID selects an existing conversation; empty starts a new one.
	ConversationID string
	Text           string
	// ImageURL is an https or data URL attached to the message.
	ImageURL string
}

// SendResult is the persisted outcome of a turn.
type SendResult struct {
	Conversation *store.Conversation
	Reply        string
	EventCreated *store.Event
}

// Send runs one turn. Nothing is persisted unless the first model call
// succeeds; after that the user message is stored before any tool runs, so a
// turn interrupted after creating an event is visible in the history.
func (s *Service) Send(ctx context.Context, owner int64, in SendInput) (*SendResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.ImageURL == "" {
		return nil, ErrEmptyMessage
	}

	var conv *store.Conversation
	var stored []store.Message
	if in.ConversationID != "" {
		var err error
		conv, err = s.conversations.Get(ctx, in.ConversationID, owner)
		if err != nil {
			return nil, err
		}
		if stored, err = s.messages.List(ctx, conv.ID); err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	var imageRef *string
	if in.ImageURL != "" {
		imageRef = &in.ImageURL
	}
	history := s.buildHistory(stored, store.Message{Role: store.RoleUser, Content: text, ImageRef: imageRef})

	commit := func(ctx context.Context) error {
		if conv == nil {
			created, err := s.conversations.Create(ctx, owner, "")
			if err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
			conv = created
		}
		if _, err := s.messages.Append(ctx, conv.ID, store.RoleUser, text, imageRef); err != nil {
			return fmt.Errorf("store user message: %w", err)
		}
		return nil
	}

	turn, err := s.loop.Run(ctx, owner, history, RunOptions{OnFirstResponse: commit})
	if err != nil {
		return nil, err
	}

	log := s.logger.With(logging.Conversation(conv.ID), logging.Owner(owner))
	if turn.ToolResult != "" {
		if _, err := s.messages.Append(ctx, conv.ID, store.RoleTool, turn.ToolResult, nil); err != nil {
			log.Warn("store tool result", logging.Err(err))
		}
	}
	if _, err := s.messages.Append(ctx, conv.ID, store.RoleAssistant, turn.ReplyContent, nil); err != nil {
		return nil, fmt.Errorf("store assistant reply: %w", err)
	}
	if err := s.conversations.Touch(ctx, conv.ID); err != nil {
		log.Warn("touch conversation", logging.Err(err))
	}

	if conv.Title == store.DefaultConversationTitle && text != "" {
		title := s.generateTitle(ctx, text)
		if err := s.conversations.Rename(ctx, conv.ID, owner, title); err != nil {
			log.Warn("set conversation title", logging.Err(err))
		} else {
			conv.Title = title
		}
	}

	return &SendResult{Conversation: conv, Reply: turn.ReplyContent, EventCreated: turn.EventCreated}, nil
}

// SystemPrompt is prepended to every model request.
func (s *Service) SystemPrompt() string {
	now := s.now().In(s.loc)
	return fmt.Sprintf(`You are a helpful calendar assistant.
Today is %s (%s). The user's time zone is %s.
Use get_today_schedule to answer questions about today's events.
Use create_event to add an event; pass start_time and end_time as ISO 8601 timestamps with the UTC offset of the user's time zone.
Only create an event when the user asks for one, and create it once.`,
		now.Format("Monday, January 2, 2006"), schedule.DateOf(now), s.loc.String())
}

// buildHistory rebuilds the model-visible conversation from stored messages.
// Tool results are kept for the record only; the model sees the assistant
// reply that followed them.
func (s *Service) buildHistory(stored []store.Message, next store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(stored)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: s.SystemPrompt()})
	for _, m := range append(stored, next) {
		switch m.Role {
		case store.RoleUser:
			out = append(out, userMessage(m))
		case store.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return out
}

func userMessage(m store.Message) llm.Message {
	if m.ImageRef == nil || *m.ImageRef == "" {
		return llm.Message{Role: llm.RoleUser, Content: m.Content}
	}
	parts := make([]llm.ContentPart, 0, 2)
	if m.Content != "" {
		parts = append(parts, llm.TextPart(m.Content))
	}
	parts = append(parts, llm.ImagePart(*m.ImageRef))
	return llm.Message{Role: llm.RoleUser, Parts: parts}
}

// generateTitle asks the model for a short title, falling back to the start
// of the message.
func (s *Service) generateTitle(ctx context.Context, text string) string {
	msg, err := s.llm.Complete(ctx, llm.Request{
		Phase: metrics.PhaseTitle,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Write a title of at most six words for a conversation that starts with the user's message. Reply with the title only."},
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err == nil {
		if title := cleanTitle(msg.Content); title != "" {
			return title
		}
	} else {
		s.logger.Debug("title generation failed", logging.Err(err))
	}
	return FallbackTitle(text)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	if utf8.RuneCountInString(s) > 80 {
		return ""
	}
	return s
}

// FallbackTitle is the first 50 characters of text.
func FallbackTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= titleFallbackLen {
		return text
	}
	return string([]rune(text)[:titleFallbackLen])
}
