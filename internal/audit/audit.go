package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiwari-pos/alert-console/internal/card"
)

// Entry is one operator action on a card.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	Action       string    `json:"action"`
	Key          card.Key  `json:"key"`
	Operator     string    `json:"operator"`
	Reason       string    `json:"reason,omitempty"`
	ExtraMinutes *int      `json:"extraMinutes,omitempty"`
	At           time.Time `json:"at"`
}

// Recorder stores the action trail.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS alert_actions (
	id            UUID PRIMARY KEY,
	action        TEXT NOT NULL,
	card_kind     TEXT NOT NULL,
	card_id       TEXT NOT NULL,
	operator      TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	extra_minutes INTEGER,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_actions_created_at_idx ON alert_actions (created_at DESC);
`

const insertEntry = `INSERT INTO alert_actions
	(id, action, card_kind, card_id, operator, reason, extra_minutes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const listRecent = `SELECT id, action, card_kind, card_id, operator, reason, extra_minutes, created_at
	FROM alert_actions ORDER BY created_at DESC LIMIT $1`

// EnsureSchema creates the alert_actions table if it is missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create alert_actions: %w", err)
	}
	return nil
}

// PGRecorder writes entries to Postgres.
type PGRecorder struct {
	db  DBTX
	now func() time.Time
}

func NewPGRecorder(db DBTX) *PGRecorder {
	return &PGRecorder{db: db, now: time.Now}
}

// Record inserts e, filling in a missing ID or timestamp.
func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = r.now()
	}
	_, err := r.db.Exec(ctx, insertEntry,
		e.ID, e.Action, e.Key.Kind, e.Key.ID, e.Operator, e.Reason, e.ExtraMinutes, e.At)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", e.Action, e.Key, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *PGRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, listRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert actions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.Key.Kind, &e.Key.ID, &e.Operator, &e.Reason, &e.ExtraMinutes, &e.At); err != nil {
			return nil, fmt.Errorf("scan alert action: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alert actions: %w", err)
	}
	return entries, nil
}

// Nop discards entries. Used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return []Entry{}, nil }
