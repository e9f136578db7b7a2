// Package postgres provides a PostgreSQL-backed journal.Journal.
//
// Entries live in the narration_entries table, created by [Migrate]. Capacity
// is not enforced at write time; [Journal.Prune] deletes all but the newest
// rows and is run after every Record when a capacity is set.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/glyphlens/internal/journal"
)

const ddlNarrationEntries = `
CREATE TABLE IF NOT EXISTS narration_entries (
    seq          BIGSERIAL    PRIMARY KEY,
    id           TEXT         NOT NULL UNIQUE,
    run_id       TEXT         NOT NULL DEFAULT '',
    text         TEXT         NOT NULL,
    produced_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    spoken       BOOLEAN      NOT NULL DEFAULT false,
    speech_error TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_narration_entries_run_id
    ON narration_entries (run_id);
`

// Migrate creates the journal table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlNarrationEntries); err != nil {
		return fmt.Errorf("postgres journal: migrate: %w", err)
	}
	return nil
}

// Compile-time interface assertion.
var _ journal.Journal = (*Journal)(nil)

// Journal stores narration entries in PostgreSQL.
type Journal struct {
	pool     *pgxpool.Pool
	capacity int
}

// Open connects to dsn, pings the server and runs [Migrate]. A positive
// capacity bounds the number of rows kept.
func Open(ctx context.Context, dsn string, capacity int) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Journal{pool: pool, capacity: capacity}, nil
}

// Record implements journal.Journal.
func (j *Journal) Record(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO narration_entries (id, run_id, text, produced_at, spoken, speech_error)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := j.pool.Exec(ctx, q, e.ID, e.RunID, e.Text, e.ProducedAt, e.Spoken, e.SpeechError); err != nil {
		return fmt.Errorf("postgres journal: record: %w", err)
	}
	if j.capacity > 0 {
		return j.Prune(ctx, j.capacity)
	}
	return nil
}

// Prune deletes all but the newest keep entries.
func (j *Journal) Prune(ctx context.Context, keep int) error {
	const q = `
		DELETE FROM narration_entries
		WHERE  seq <= (SELECT seq FROM narration_entries ORDER BY seq DESC OFFSET $1 LIMIT 1)`

	if _, err := j.pool.Exec(ctx, q, keep); err != nil {
		return fmt.Errorf("postgres journal: prune: %w", err)
	}
	return nil
}

// Recent implements journal.Journal.
func (j *Journal) Recent(ctx context.Context, n int) ([]journal.Entry, error) {
	if n <= 0 {
		return []journal.Entry{}, nil
	}
	const q = `
		SELECT id, run_id, text, produced_at, spoken, speech_error
		FROM   narration_entries
		ORDER  BY seq DESC
		LIMIT  $1`

	rows, err := j.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var e journal.Entry
		err := row.Scan(&e.ID, &e.RunID, &e.Text, &e.ProducedAt, &e.Spoken, &e.SpeechError)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres journal: scan: %w", err)
	}
	return entries, nil
}

// Ping implements journal.Journal.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// Close implements journal.Journal.
func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}
