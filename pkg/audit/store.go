// Package audit persists the local, append-only trail of unlock
// transactions: one row per attempt, carrying the intent and receipt records
// verbatim so a failed receipt publication can be resubmitted manually.
// The trail is scoped to the current viewer's environment and is the only
// local persistent state besides the unlocked-item cache.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zapgate-labs/zapgate/pkg/record"
)

// Outcome is the terminal state recorded for one unlock attempt.
type Outcome string

const (
	// OutcomeUnlocked: payment settled and the receipt reached at least one
	// relay.
	OutcomeUnlocked Outcome = "UNLOCKED"
	// OutcomeReceiptPublicationFailed: money moved but no relay accepted the
	// receipt. The row keeps the signed receipt for manual resubmission.
	OutcomeReceiptPublicationFailed Outcome = "RECEIPT_PUBLICATION_FAILED"
)

// Entry is one row of the trail.
type Entry struct {
	ID      string
	Time    time.Time
	Item    string
	Payer   string
	Amount  int64
	Outcome Outcome
	Intent  *record.Record
	Receipt *record.Record
}

// Store is the sqlite-backed trail. Appends are serialized through a single
// writer; rows are never updated or deleted.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the trail database at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return NewStore(db)
}

// NewStore wraps an existing database handle and runs migrations.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	// ts holds epoch nanoseconds so ORDER BY ts is chronological.
	query := `
	CREATE TABLE IF NOT EXISTS unlock_audit (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		item TEXT NOT NULL,
		payer TEXT NOT NULL,
		amount INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		intent_json TEXT,
		receipt_json TEXT,
		receipt_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_unlock_audit_receipt ON unlock_audit(receipt_id);
	`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Append writes one entry. The entry id is assigned if empty.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	intentJSON, err := marshalRecord(e.Intent)
	if err != nil {
		return fmt.Errorf("audit: encode intent: %w", err)
	}
	receiptJSON, err := marshalRecord(e.Receipt)
	if err != nil {
		return fmt.Errorf("audit: encode receipt: %w", err)
	}
	receiptID := ""
	if e.Receipt != nil {
		receiptID = e.Receipt.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unlock_audit (id, ts, item, payer, amount, outcome, intent_json, receipt_json, receipt_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UnixNano(), e.Item, e.Payer, e.Amount,
		string(e.Outcome), intentJSON, receiptJSON, receiptID,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, item, payer, amount, outcome, intent_json, receipt_json
		FROM unlock_audit
		ORDER BY ts DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// Get returns one entry by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, item, payer, amount, outcome, intent_json, receipt_json
		FROM unlock_audit
		WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("audit: get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return entries[0], nil
}

// PendingReceipts returns entries whose receipt never reached a relay and
// has no later successful row for the same receipt. These are the candidates
// for manual resubmission.
func (s *Store) PendingReceipts(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, item, payer, amount, outcome, intent_json, receipt_json
		FROM unlock_audit a
		WHERE outcome = ?
		  AND receipt_id != ''
		  AND NOT EXISTS (
			SELECT 1 FROM unlock_audit b
			WHERE b.receipt_id = a.receipt_id AND b.outcome = ?
		  )
		ORDER BY ts ASC`,
		string(OutcomeReceiptPublicationFailed), string(OutcomeUnlocked))
	if err != nil {
		return nil, fmt.Errorf("audit: pending receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func marshalRecord(r *record.Record) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalRecord(raw sql.NullString) (*record.Record, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var r record.Record
	if err := json.Unmarshal([]byte(raw.String), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var (
			e           Entry
			ts          int64
			outcome     string
			intentJSON  sql.NullString
			receiptJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Item, &e.Payer, &e.Amount, &outcome, &intentJSON, &receiptJSON); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Time = time.Unix(0, ts).UTC()
		e.Outcome = Outcome(outcome)
		var err error
		if e.Intent, err = unmarshalRecord(intentJSON); err != nil {
			return nil, fmt.Errorf("audit: decode intent: %w", err)
		}
		if e.Receipt, err = unmarshalRecord(receiptJSON); err != nil {
			return nil, fmt.Errorf("audit: decode receipt: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
