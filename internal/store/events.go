package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jw6ventures/calassist/internal/schedule"
)

// eventRepo implements EventRepository.
type eventRepo struct {
	db querier
}

const eventColumns = `id, owner_id, title, description, location, start_at, end_at, all_day, external_id, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Location, &e.Start, &e.End, &e.AllDay, &e.ExternalID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *eventRepo) Create(ctx context.Context, ownerID int64, fields EventFields) (*Event, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	defer observeDB(ctx, "events.create")()
	const q = `INSERT INTO events (owner_id, title, description, location, start_at, end_at, all_day)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + eventColumns
	e, err := scanEvent(r.db.QueryRow(ctx, q, ownerID, fields.Title, nullable(fields.Description), nullable(fields.Location), fields.Start, fields.End, fields.AllDay))
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return e, nil
}

func (r *eventRepo) GetByID(ctx context.Context, id, ownerID int64) (*Event, error) {
	defer observeDB(ctx, "events.get")()
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id=$1 AND owner_id=$2`
	return scanEvent(r.db.QueryRow(ctx, q, id, ownerID))
}

func (r *eventRepo) ListByOwner(ctx context.Context, ownerID int64) ([]Event, error) {
	defer observeDB(ctx, "events.list")()
	const q = `SELECT ` + eventColumns + ` FROM events WHERE owner_id=$1 ORDER BY start_at ASC, id ASC`
	rows, err := r.db.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

func (r *eventRepo) ListByOwnerRange(ctx context.Context, ownerID int64, from, to time.Time) ([]Event, error) {
	defer observeDB(ctx, "events.list_range")()
	const q = `SELECT ` + eventColumns + ` FROM events
WHERE owner_id=$1 AND start_at >= $2 AND start_at < $3
ORDER BY start_at ASC, id ASC`
	rows, err := r.db.Query(ctx, q, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events in range: %w", err)
	}
	return collectEvents(rows)
}

// ListByOwnerOnDate returns events whose start falls on date in loc. The query
// is bounded by that day's local midnights and the result is filtered with the
// same civil-date predicate the availability engine uses.
func (r *eventRepo) ListByOwnerOnDate(ctx context.Context, ownerID int64, date schedule.Date, loc *time.Location) ([]Event, error) {
	events, err := r.ListByOwnerRange(ctx, ownerID, date.At(0, loc), date.At(24, loc))
	if err != nil {
		return nil, err
	}
	return schedule.OnDate(events, date, loc), nil
}

func (r *eventRepo) Update(ctx context.Context, id, ownerID int64, fields EventFields) (*Event, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	defer observeDB(ctx, "events.update")()
	const q = `UPDATE events SET title=$3, description=$4, location=$5, start_at=$6, end_at=$7, all_day=$8, updated_at=NOW()
WHERE id=$1 AND owner_id=$2
RETURNING ` + eventColumns
	e, err := scanEvent(r.db.QueryRow(ctx, q, id, ownerID, fields.Title, nullable(fields.Description), nullable(fields.Location), fields.Start, fields.End, fields.AllDay))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return e, nil
}

func (r *eventRepo) Delete(ctx context.Context, id, ownerID int64) (int64, error) {
	defer observeDB(ctx, "events.delete")()
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete event: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertExternal inserts or overwrites the event imported under externalID.
// Re-imports win over local edits.
func (r *eventRepo) UpsertExternal(ctx context.Context, ownerID int64, externalID string, fields EventFields) (*Event, error) {
	if externalID == "" {
		return nil, &schedule.ValidationError{Index: -1, Field: "externalId", Reason: "external id is required"}
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	defer observeDB(ctx, "events.upsert_external")()
	const q = `INSERT INTO events (owner_id, title, description, location, start_at, end_at, all_day, external_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (owner_id, external_id) WHERE external_id IS NOT NULL
DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description, location=EXCLUDED.location,
	start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at, all_day=EXCLUDED.all_day, updated_at=NOW()
RETURNING ` + eventColumns
	e, err := scanEvent(r.db.QueryRow(ctx, q, ownerID, fields.Title, nullable(fields.Description), nullable(fields.Location), fields.Start, fields.End, fields.AllDay, externalID))
	if err != nil {
		return nil, fmt.Errorf("upsert external event %s: %w", externalID, err)
	}
	return e, nil
}
