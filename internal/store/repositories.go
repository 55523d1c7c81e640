package store

import (
	"context"
	"time"

	"github.com/jw6ventures/calassist/internal/schedule"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	UpsertOAuthUser(ctx context.Context, subject, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
}

// EventRepository handles event storage. Every operation is scoped to an owner.
type EventRepository interface {
	Create(ctx context.Context, ownerID int64, fields EventFields) (*Event, error)
	GetByID(ctx context.Context, id, ownerID int64) (*Event, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Event, error)
	ListByOwnerRange(ctx context.Context, ownerID int64, from, to time.Time) ([]Event, error)
	ListByOwnerOnDate(ctx context.Context, ownerID int64, date schedule.Date, loc *time.Location) ([]Event, error)
	Update(ctx context.Context, id, ownerID int64, fields EventFields) (*Event, error)
	Delete(ctx context.Context, id, ownerID int64) (int64, error)
	UpsertExternal(ctx context.Context, ownerID int64, externalID string, fields EventFields) (*Event, error)
}

// ConversationRepository manages chat conversations.
type ConversationRepository interface {
	Create(ctx context.Context, ownerID int64, title string) (*Conversation, error)
	Get(ctx context.Context, id string, ownerID int64) (*Conversation, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Conversation, error)
	Rename(ctx context.Context, id string, ownerID int64, title string) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, ownerID int64) error
}

// MessageRepository stores conversation messages.
type MessageRepository interface {
	Append(ctx context.Context, conversationID string, role Role, content string, imageRef *string) (*Message, error)
	List(ctx context.Context, conversationID string) ([]Message, error)
}

// GoogleTokenRepository stores encrypted Google OAuth tokens.
type GoogleTokenRepository interface {
	Save(ctx context.Context, ownerID int64, ciphertext []byte) error
	Get(ctx context.Context, ownerID int64) (*GoogleToken, error)
	Delete(ctx context.Context, ownerID int64) error
}
