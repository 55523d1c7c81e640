package store

import (
	"context"
	"regexp"
	"strings"
	"testing"
)

var migrationHeaders = []struct {
	name   string
	header string
}{
	{"001_init.sql", "-- Initial schema for calassist"},
	{"002_conversations.sql", "-- Chat conversations and messages"},
	{"003_google_tokens.sql", "-- Encrypted Google Calendar tokens"},
}

var createTracking = execExpectation{expect: regexp.MustCompile("CREATE TABLE IF NOT EXISTS schema_migrations")}

func checksums(t *testing.T) map[string]string {
	t.Helper()
	all, err := loadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	out := make(map[string]string, len(all))
	for _, m := range all {
		out[m.name] = m.checksum
	}
	return out
}

func migrationTx(name, header, sum string, alreadyApplied bool) *mockTx {
	tx := &mockTx{
		execs: []execExpectation{{expect: regexp.MustCompile(`pg_advisory_xact_lock`), args: []any{migrationLockKey}}},
		queries: []queryExpectation{{
			expect: regexp.MustCompile(`schema_migrations WHERE version=\$1`),
			args:   []any{name},
			value:  alreadyApplied,
		}},
	}
	if !alreadyApplied {
		tx.execs = append(tx.execs,
			execExpectation{expect: regexp.MustCompile(regexp.QuoteMeta(header))},
			execExpectation{expect: regexp.MustCompile("INSERT INTO schema_migrations"), args: []any{name, sum}},
		)
	}
	return tx
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	all, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(migrationHeaders) {
		t.Fatalf("got %d migrations, want %d", len(all), len(migrationHeaders))
	}
	for i, m := range all {
		if m.name != migrationHeaders[i].name {
			t.Fatalf("migration %d = %s, want %s", i, m.name, migrationHeaders[i].name)
		}
		if !strings.HasPrefix(m.sql, migrationHeaders[i].header) {
			t.Fatalf("%s does not start with %q", m.name, migrationHeaders[i].header)
		}
	}
}

func TestApplyMigrationsEmptyDatabase(t *testing.T) {
	sums := checksums(t)
	var txs []*mockTx
	for _, m := range migrationHeaders {
		txs = append(txs, migrationTx(m.name, m.header, sums[m.name], false))
	}
	pool := &mockPool{
		t:     t,
		execs: []execExpectation{createTracking},
		lists: []rowsExpectation{{expect: regexp.MustCompile("SELECT version, checksum FROM schema_migrations")}},
		txs:   txs,
	}

	applied, err := ApplyMigrations(context.Background(), pool)
	if err != nil {
		t.Fatalf("expected migrations to apply, got error: %v", err)
	}
	if len(applied) != 3 || applied[0] != "001_init.sql" {
		t.Fatalf("applied = %v", applied)
	}

	pool.assertDone()
	for _, tx := range txs {
		tx.assertDone()
		if !tx.committed {
			t.Fatal("expected migration transaction to commit")
		}
	}
}

func TestApplyMigrationsOnlyPending(t *testing.T) {
	sums := checksums(t)
	// 001 predates checksum tracking, 002 is recorded, 003 is applied by
	// another instance while this one waits for the lock.
	tx := migrationTx("003_google_tokens.sql", migrationHeaders[2].header, sums["003_google_tokens.sql"], true)
	pool := &mockPool{
		t:     t,
		execs: []execExpectation{createTracking},
		lists: []rowsExpectation{{
			expect: regexp.MustCompile("FROM schema_migrations"),
			rows: [][]any{
				{"001_init.sql", nil},
				{"002_conversations.sql", sums["002_conversations.sql"]},
			},
		}},
		txs: []*mockTx{tx},
	}

	applied, err := ApplyMigrations(context.Background(), pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	pool.assertDone()
	tx.assertDone()
}

func TestApplyMigrationsDetectsEditedFile(t *testing.T) {
	pool := &mockPool{
		t:     t,
		execs: []execExpectation{createTracking},
		lists: []rowsExpectation{{
			expect: regexp.MustCompile("FROM schema_migrations"),
			rows:   [][]any{{"001_init.sql", "deadbeef"}},
		}},
	}

	_, err := ApplyMigrations(context.Background(), pool)
	if err == nil || !strings.Contains(err.Error(), "changed after it was applied") {
		t.Fatalf("expected checksum error, got %v", err)
	}
}
