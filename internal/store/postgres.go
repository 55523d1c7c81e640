package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// userRepo implements UserRepository.
type userRepo struct {
	db querier
}

const userColumns = `id, oauth_subject, primary_email, created_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.OAuthSubject, &u.PrimaryEmail, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) UpsertOAuthUser(ctx context.Context, subject, email string) (*User, error) {
	defer observeDB(ctx, "users.upsert")()
	const q = `INSERT INTO users (oauth_subject, primary_email)
VALUES ($1, $2)
ON CONFLICT (oauth_subject) DO UPDATE SET primary_email = EXCLUDED.primary_email, last_login_at = NOW()
RETURNING ` + userColumns
	u, err := scanUser(r.db.QueryRow(ctx, q, subject, email))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get")()
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.QueryRow(ctx, q, id))
}

// EnsureAnonymousUser returns the shared anonymous owner, creating it on first
// use. The advisory lock serializes concurrent first requests.
func (s *Store) EnsureAnonymousUser(ctx context.Context) (*User, error) {
	defer observeDB(ctx, "users.ensure_anonymous")()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin anonymous user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, anonymousLockKey); err != nil {
		return nil, fmt.Errorf("lock anonymous user: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE oauth_subject=$1)`, AnonymousSubject).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check anonymous user: %w", err)
	}
	if !exists {
		if _, err := tx.Exec(ctx, `INSERT INTO users (oauth_subject, primary_email) VALUES ($1, '')`, AnonymousSubject); err != nil {
			return nil, fmt.Errorf("create anonymous user: %w", err)
		}
	}

	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE oauth_subject=$1`, AnonymousSubject))
	if err != nil {
		return nil, fmt.Errorf("load anonymous user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit anonymous user: %w", err)
	}
	return u, nil
}

const anonymousLockKey int64 = 0x63616c61 // "cala"

// googleTokenRepo implements GoogleTokenRepository.
type googleTokenRepo struct {
	db querier
}

func (r *googleTokenRepo) Save(ctx context.Context, ownerID int64, ciphertext []byte) error {
	defer observeDB(ctx, "google_tokens.save")()
	const q = `INSERT INTO google_tokens (owner_id, ciphertext) VALUES ($1, $2)
ON CONFLICT (owner_id) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = NOW()`
	if _, err := r.db.Exec(ctx, q, ownerID, ciphertext); err != nil {
		return fmt.Errorf("save google token: %w", err)
	}
	return nil
}

func (r *googleTokenRepo) Get(ctx context.Context, ownerID int64) (*GoogleToken, error) {
	defer observeDB(ctx, "google_tokens.get")()
	const q = `SELECT owner_id, ciphertext, updated_at FROM google_tokens WHERE owner_id=$1`
	var t GoogleToken
	if err := r.db.QueryRow(ctx, q, ownerID).Scan(&t.OwnerID, &t.Ciphertext, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get google token: %w", err)
	}
	return &t, nil
}

func (r *googleTokenRepo) Delete(ctx context.Context, ownerID int64) error {
	defer observeDB(ctx, "google_tokens.delete")()
	if _, err := r.db.Exec(ctx, `DELETE FROM google_tokens WHERE owner_id=$1`, ownerID); err != nil {
		return fmt.Errorf("delete google token: %w", err)
	}
	return nil
}
