package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// conversationRepo implements ConversationRepository.
type conversationRepo struct {
	db querier
}

const conversationColumns = `id, owner_id, title, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) Create(ctx context.Context, ownerID int64, title string) (*Conversation, error) {
	defer observeDB(ctx, "conversations.create")()
	if title == "" {
		title = DefaultConversationTitle
	}
	const q = `INSERT INTO conversations (id, owner_id, title) VALUES ($1, $2, $3) RETURNING ` + conversationColumns
	c, err := scanConversation(r.db.QueryRow(ctx, q, uuid.NewString(), ownerID, title))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) Get(ctx context.Context, id string, ownerID int64) (*Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	defer observeDB(ctx, "conversations.get")()
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1 AND owner_id=$2`
	return scanConversation(r.db.QueryRow(ctx, q, id, ownerID))
}

func (r *conversationRepo) ListByOwner(ctx context.Context, ownerID int64) ([]Conversation, error) {
	defer observeDB(ctx, "conversations.list")()
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE owner_id=$1 ORDER BY updated_at DESC`
	rows, err := r.db.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *conversationRepo) Rename(ctx context.Context, id string, ownerID int64, title string) error {
	defer observeDB(ctx, "conversations.rename")()
	tag, err := r.db.Exec(ctx, `UPDATE conversations SET title=$3, updated_at=NOW() WHERE id=$1 AND owner_id=$2`, id, ownerID, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepo) Touch(ctx context.Context, id string) error {
	defer observeDB(ctx, "conversations.touch")()
	if _, err := r.db.Exec(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *conversationRepo) Delete(ctx context.Context, id string, ownerID int64) error {
	defer observeDB(ctx, "conversations.delete")()
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// messageRepo implements MessageRepository.
type messageRepo struct {
	db querier
}

const messageColumns = `id, conversation_id, seq, role, content, image_ref, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var role string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &m.ImageRef, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	return &m, nil
}

func (r *messageRepo) Append(ctx context.Context, conversationID string, role Role, content string, imageRef *string) (*Message, error) {
	defer observeDB(ctx, "messages.append")()
	const q = `INSERT INTO messages (id, conversation_id, role, content, image_ref)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + messageColumns
	m, err := scanMessage(r.db.QueryRow(ctx, q, uuid.NewString(), conversationID, string(role), content, imageRef))
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// List returns messages oldest first. seq breaks ties between messages
// written in the same instant by concurrent requests.
func (r *messageRepo) List(ctx context.Context, conversationID string) ([]Message, error) {
	defer observeDB(ctx, "messages.list")()
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.db.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
