package store

import (
	"time"

	"github.com/jw6ventures/calassist/internal/schedule"
)

// User represents a person authenticated via OAuth.
type User struct {
	ID           int64     `json:"id"`
	OAuthSubject string    `json:"-"`
	PrimaryEmail string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLoginAt  time.Time `json:"lastLoginAt"`
}

// AnonymousSubject is the OAuth subject of the shared bucket used when
// anonymous access is enabled.
const AnonymousSubject = "anonymous"

// Event is a calendar entry owned by a single user.
type Event struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"ownerId"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
	ExternalID  *string   `json:"externalId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Span implements schedule.Entry.
func (e Event) Span() schedule.Interval {
	return schedule.Interval{Start: e.Start, End: e.End}
}

// IsAllDay implements schedule.Entry.
func (e Event) IsAllDay() bool { return e.AllDay }

// EventFields are the user-editable attributes of an event.
type EventFields struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Validate enforces a non-empty title and end after start.
func (f EventFields) Validate() error {
	if f.Title == "" {
		return &schedule.ValidationError{Index: -1, Field: "title", Reason: "title is required"}
	}
	_, err := schedule.NewInterval(f.Start, f.End)
	return err
}

// Conversation groups chat messages for one owner.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultConversationTitle marks a conversation whose title has not been derived yet.
const DefaultConversationTitle = "New conversation"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an append-only entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"-"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ImageRef       *string   `json:"imageRef,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GoogleToken is an encrypted Google OAuth token for calendar import.
type GoogleToken struct {
	OwnerID    int64
	Ciphertext []byte
	UpdatedAt  time.Time
}
