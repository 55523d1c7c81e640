package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/calassist/internal/chat"
	"github.com/jw6ventures/calassist/internal/googlesync"
	"github.com/jw6ventures/calassist/internal/schedule"
	"github.com/jw6ventures/calassist/internal/store"
)

type fakeEvents struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]store.Event
}

func newFakeEvents(seed ...store.Event) *fakeEvents {
	f := &fakeEvents{rows: map[int64]store.Event{}}
	for _, ev := range seed {
		if ev.ID > f.nextID {
			f.nextID = ev.ID
		}
		f.rows[ev.ID] = ev
	}
	return f
}

func (f *fakeEvents) sorted(keep func(store.Event) bool) []store.Event {
	var out []store.Event
	for _, ev := range f.rows {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeEvents) apply(ev *store.Event, fields store.EventFields) {
	ev.Title, ev.Start, ev.End, ev.AllDay = fields.Title, fields.Start, fields.End, fields.AllDay
	ev.Description, ev.Location = nil, nil
	if fields.Description != "" {
		d := fields.Description
		ev.Description = &d
	}
	if fields.Location != "" {
		l := fields.Location
		ev.Location = &l
	}
}

func (f *fakeEvents) Create(_ context.Context, owner int64, fields store.EventFields) (*store.Event, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev := store.Event{ID: f.nextID, OwnerID: owner}
	f.apply(&ev, fields)
	f.rows[ev.ID] = ev
	return &ev, nil
}

func (f *fakeEvents) GetByID(_ context.Context, id, owner int64) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.rows[id]
	if !ok || ev.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return &ev, nil
}

func (f *fakeEvents) ListByOwner(_ context.Context, owner int64) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(ev store.Event) bool { return ev.OwnerID == owner }), nil
}

func (f *fakeEvents) ListByOwnerRange(_ context.Context, owner int64, from, to time.Time) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(ev store.Event) bool {
		return ev.OwnerID == owner && !ev.Start.Before(from) && ev.Start.Before(to)
	}), nil
}

func (f *fakeEvents) ListByOwnerOnDate(ctx context.Context, owner int64, date schedule.Date, loc *time.Location) ([]store.Event, error) {
	events, _ := f.ListByOwnerRange(ctx, owner, date.At(0, loc), date.At(24, loc))
	return schedule.OnDate(events, date, loc), nil
}

func (f *fakeEvents) Update(_ context.Context, id, owner int64, fields store.EventFields) (*store.Event, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.rows[id]
	if !ok || ev.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	f.apply(&ev, fields)
	f.rows[id] = ev
	return &ev, nil
}

func (f *fakeEvents) Delete(_ context.Context, id, owner int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.rows[id]
	if !ok || ev.OwnerID != owner {
		return 0, nil
	}
	delete(f.rows, id)
	return 1, nil
}

func (f *fakeEvents) UpsertExternal(_ context.Context, owner int64, externalID string, fields store.EventFields) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ev := range f.rows {
		if ev.OwnerID == owner && ev.ExternalID != nil && *ev.ExternalID == externalID {
			f.apply(&ev, fields)
			f.rows[id] = ev
			return &ev, nil
		}
	}
	f.nextID++
	ext := externalID
	ev := store.Event{ID: f.nextID, OwnerID: owner, ExternalID: &ext}
	f.apply(&ev, fields)
	f.rows[ev.ID] = ev
	return &ev, nil
}

type fakeConversations struct {
	rows map[string]*store.Conversation
}

func (f *fakeConversations) Create(_ context.Context, owner int64, title string) (*store.Conversation, error) {
	if title == "" {
		title = store.DefaultConversationTitle
	}
	c := &store.Conversation{ID: uuid.NewString(), OwnerID: owner, Title: title}
	f.rows[c.ID] = c
	return c, nil
}

func (f *fakeConversations) Get(_ context.Context, id string, owner int64) (*store.Conversation, error) {
	c, ok := f.rows[id]
	if !ok || c.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) ListByOwner(_ context.Context, owner int64) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, c := range f.rows {
		if c.OwnerID == owner {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConversations) Rename(_ context.Context, id string, owner int64, title string) error {
	c, ok := f.rows[id]
	if !ok || c.OwnerID != owner {
		return store.ErrNotFound
	}
	c.Title = title
	return nil
}

func (f *fakeConversations) Touch(context.Context, string) error { return nil }

func (f *fakeConversations) Delete(_ context.Context, id string, owner int64) error {
	c, ok := f.rows[id]
	if !ok || c.OwnerID != owner {
		return store.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type fakeMessages struct {
	rows []store.Message
}

func (f *fakeMessages) Append(_ context.Context, conv string, role store.Role, content string, imageRef *string) (*store.Message, error) {
	m := store.Message{ID: uuid.NewString(), ConversationID: conv, Seq: int64(len(f.rows) + 1), Role: role, Content: content, ImageRef: imageRef}
	f.rows = append(f.rows, m)
	return &m, nil
}

func (f *fakeMessages) List(_ context.Context, conv string) ([]store.Message, error) {
	var out []store.Message
	for _, m := range f.rows {
		if m.ConversationID == conv {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeChat struct {
	in     chat.SendInput
	owner  int64
	result *chat.SendResult
	err    error
}

func (f *fakeChat) Send(_ context.Context, owner int64, in chat.SendInput) (*chat.SendResult, error) {
	f.owner, f.in = owner, in
	return f.result, f.err
}

type fakeExtractor struct {
	events []schedule.ExtractedEvent
	err    error
}

func (f *fakeExtractor) Events(context.Context, string, schedule.Date, *time.Location) ([]schedule.ExtractedEvent, error) {
	if f.err != nil {
		return []schedule.ExtractedEvent{}, f.err
	}
	return f.events, nil
}

type fakeGoogle struct {
	connected bool
	code      string
	from, to  time.Time
	state     *googlesync.SyncState
	importErr error
}

func (f *fakeGoogle) AuthURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (f *fakeGoogle) Exchange(_ context.Context, _ int64, code string) error {
	f.code, f.connected = code, true
	return nil
}

func (f *fakeGoogle) Connected(context.Context, int64) (bool, error) { return f.connected, nil }

func (f *fakeGoogle) Disconnect(context.Context, int64) error {
	f.connected = false
	return nil
}

func (f *fakeGoogle) Import(_ context.Context, _ int64, from, to time.Time) (googlesync.SyncState, error) {
	f.from, f.to = from, to
	if f.importErr != nil {
		return googlesync.SyncState{}, f.importErr
	}
	return googlesync.SyncState{RangeStart: from, RangeEnd: to, Imported: 3}, nil
}

func (f *fakeGoogle) State(int64) (googlesync.SyncState, bool, error) {
	if f.state == nil {
		return googlesync.SyncState{}, false, nil
	}
	return *f.state, true, nil
}
