package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jw6ventures/calassist/internal/migrations"
)

// migrationLockKey serializes migration runs of concurrently starting instances.
const migrationLockKey int64 = 0x63616c6d6967

type migration struct {
	name     string
	sql      string
	checksum string
}

// ApplyMigrations applies every embedded migration that schema_migrations does
// not list yet, in name order and each in its own transaction, and returns the
// names it applied. A recorded migration whose file has since changed is an
// error.
func ApplyMigrations(ctx context.Context, db txPool) ([]string, error) {
	all, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	const create = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT PRIMARY KEY,
        checksum TEXT,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.Exec(ctx, create); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	recorded, err := recordedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range all {
		if sum, ok := recorded[m.name]; ok {
			if sum != "" && sum != m.checksum {
				return applied, fmt.Errorf("migration %s changed after it was applied", m.name)
			}
			continue
		}
		done, err := applyMigration(ctx, db, m)
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, m.name)
		}
	}
	return applied, nil
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		raw, err := migrations.Files.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{name: entry.Name(), sql: string(raw), checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// recordedMigrations maps applied versions to their checksum, empty when unknown.
func recordedMigrations(ctx context.Context, db querier) (map[string]string, error) {
	rows, err := db.Query(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var (
			version string
			sum     *string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[version] = ""
		if sum != nil {
			out[version] = *sum
		}
	}
	return out, rows.Err()
}

// applyMigration runs m under a transaction-scoped advisory lock. It reports
// false when another instance applied m first.
func applyMigration(ctx context.Context, db txPool, m migration) (applied bool, err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", m.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, m.name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", m.name, err)
	}
	if exists {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	const record = `INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, record, m.name, m.checksum); err != nil {
		return false, fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return true, nil
}
