package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hickar/mailtriage/internal/app/mailstore"
)

// Outcome of handling a single message.
type Outcome string

const (
	OutcomeMoved      Outcome = "moved"
	OutcomeDryRun     Outcome = "dry_run"
	OutcomeKept       Outcome = "kept"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	OutcomeDuplicated Outcome = "duplicated"
	OutcomePending    Outcome = "pending_expunge"
)

// MoveOutcome maps a failed move onto the outcome recorded for it.
func MoveOutcome(err error) Outcome {
	var moveErr *mailstore.MoveError
	if !errors.As(err, &moveErr) {
		return OutcomeFailed
	}

	switch moveErr.Stage {
	case mailstore.StageStore:
		return OutcomeDuplicated
	case mailstore.StageExpunge:
		return OutcomePending
	default:
		return OutcomeFailed
	}
}

// Entry is one journal row.
type Entry struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	Folder    string    `db:"folder"`
	Ref       string    `db:"ref"`
	MessageID string    `db:"message_id"`
	Sender    string    `db:"sender"`
	Subject   string    `db:"subject"`
	Decision  string    `db:"decision"`
	Target    string    `db:"target"`
	Outcome   Outcome   `db:"outcome"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
}

// Journal records what happened to every message so partially moved
// messages can be followed up manually.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// SQLiteJournal stores entries in a local SQLite database.
type SQLiteJournal struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the journal at path.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now().UTC()
	}

	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO entries (
			run_id, folder, ref, message_id, sender, subject,
			decision, target, outcome, error, created_at
		) VALUES (
			:run_id, :folder, :ref, :message_id, :sender, :subject,
			:decision, :target, :outcome, :error, :created_at
		)`, entry)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	return nil
}

// List returns the latest entries with one of outcomes, newest first.
// All outcomes are returned when none are given.
func (j *SQLiteJournal) List(ctx context.Context, limit int, outcomes ...Outcome) ([]Entry, error) {
	query := `SELECT * FROM entries`
	args := []any{}

	if len(outcomes) > 0 {
		var err error
		query, args, err = sqlx.In(query+` WHERE outcome IN (?)`, outcomes)
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var entries []Entry
	if err := j.db.SelectContext(ctx, &entries, j.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	return entries, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	folder     TEXT NOT NULL DEFAULT '',
	ref        TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	decision   TEXT NOT NULL DEFAULT '',
	target     TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_outcome ON entries(outcome);
CREATE INDEX IF NOT EXISTS idx_entries_run_id ON entries(run_id);
`
