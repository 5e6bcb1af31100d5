// Package history is an optional append-only ledger of terminal download
// transitions, backed by PostgreSQL. The scheduler works fine without it; a
// nil *Ledger disables recording.
package history

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/jrelva/stashd/internal/data"
)

type Ledger struct {
	db *sql.DB
}

// Open connects with the provided DSN and creates the table when missing.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &Ledger{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Ping reports whether the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *Ledger) ensureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS download_history (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    state TEXT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

// Record appends one terminal transition. Implements scheduler.Recorder.
func (l *Ledger) Record(ctx context.Context, name string, state data.State, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO download_history (id,name,state,last_error,recorded_at) VALUES ($1,$2,$3,$4,$5)`,
		uuid.NewString(), name, string(state), lastError, time.Now())
	return err
}

// Entry is one recorded transition.
type Entry struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	LastError  string    `json:"lastError,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT name,state,last_error,recorded_at FROM download_history ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.State, &e.LastError, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
