package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

// scriptedLLM answers requests in order; a nil reply with an error fails the call.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []llm.Request
}

type scriptedReply struct {
	msg *llm.Message
	err error
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("unexpected model call")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.msg, r.err
}

func (s *scriptedLLM) phases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Phase)
	}
	return out
}

func content(text string) scriptedReply {
	return scriptedReply{msg: &llm.Message{Role: llm.RoleAssistant, Content: text}}
}

func toolCall(name, args string) scriptedReply {
	return scriptedReply{msg: &llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
		{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}},
	}}}
}

func failure(err error) scriptedReply {
	return scriptedReply{err: err}
}

type fakeEvents struct {
	mu      sync.Mutex
	events  []store.Event
	nextID  int64
	failErr error
}

func (f *fakeEvents) Create(ctx context.Context, ownerID int64, fields store.EventFields) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	f.nextID++
	ev := store.Event{ID: f.nextID, OwnerID: ownerID, Title: fields.Title, Start: fields.Start, End: fields.End, AllDay: fields.AllDay}
	f.events = append(f.events, ev)
	return &ev, nil
}

func (f *fakeEvents) ListByOwnerOnDate(ctx context.Context, ownerID int64, date schedule.Date, loc *time.Location) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []store.Event
	for _, ev := range f.events {
		if ev.OwnerID == ownerID {
			owned = append(owned, ev)
		}
	}
	return schedule.OnDate(owned, date, loc), nil
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeConversations struct {
	mu    sync.Mutex
	convs map[string]*store.Conversation
	seq   int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[string]*store.Conversation{}}
}

func (f *fakeConversations) Create(ctx context.Context, ownerID int64, title string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if title == "" {
		title = store.DefaultConversationTitle
	}
	f.seq++
	c := &store.Conversation{ID: "conv-" + string(rune('0'+f.seq)), OwnerID: ownerID, Title: title}
	f.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) Get(ctx context.Context, id string, ownerID int64) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) Rename(ctx context.Context, id string, ownerID int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok || c.OwnerID != ownerID {
		return store.ErrNotFound
	}
	c.Title = title
	return nil
}

func (f *fakeConversations) Touch(ctx context.Context, id string) error { return nil }

type fakeMessages struct {
	mu   sync.Mutex
	msgs []store.Message
}

func (f *fakeMessages) Append(ctx context.Context, conversationID string, role store.Role, content string, imageRef *string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := store.Message{ID: conversationID + "-" + string(rune('a'+len(f.msgs))), ConversationID: conversationID, Seq: int64(len(f.msgs) + 1), Role: role, Content: content, ImageRef: imageRef}
	f.msgs = append(f.msgs, m)
	return &m, nil
}

func (f *fakeMessages) List(ctx context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) all() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.msgs...)
}
