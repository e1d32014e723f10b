// Package journal records the transactions a tracker polls in a SQLite database, so
// tracking of unresolved transactions can be resumed after a restart.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Index on transactions.status for Unresolved
const currentSchemaVersion = 1

// timeFormat is fixed-width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// StatusPending is the status of a journaled transaction without an outcome yet.
const StatusPending = "pending"

// ErrNotFound is returned by Get for an unknown transaction.
var ErrNotFound = errors.New("transaction not journaled")

// Record is one journaled transaction.
type Record struct {
	TxID       string     `json:"txId"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Journal is a SQLite-backed transaction journal. It satisfies tracker.Journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal database at path and applies migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Begin records txID as pending. Beginning an already journaled transaction clears
// its previous outcome.
func (j *Journal) Begin(ctx context.Context, txID string) error {
	if txID == "" {
		return errors.New("transaction id is required")
	}

	now := j.timestamp()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transactions (tx_id, status, detail, created_at, updated_at, resolved_at)
		VALUES (?, ?, '', ?, ?, NULL)
		ON CONFLICT(tx_id) DO UPDATE SET
			status = excluded.status,
			detail = '',
			updated_at = excluded.updated_at,
			resolved_at = NULL
	`, txID, StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("begin %s: %w", txID, err)
	}
	return nil
}

// Resolve stores the final status and detail of txID.
func (j *Journal) Resolve(ctx context.Context, txID, status, detail string) error {
	if txID == "" {
		return errors.New("transaction id is required")
	}
	if status == "" || status == StatusPending {
		return fmt.Errorf("invalid final status %q", status)
	}

	now := j.timestamp()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transactions (tx_id, status, detail, created_at, updated_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			status = excluded.status,
			detail = excluded.detail,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at
	`, txID, status, detail, now, now, now)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", txID, err)
	}
	return nil
}

// Get returns the record of txID, or ErrNotFound.
func (j *Journal) Get(ctx context.Context, txID string) (Record, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT tx_id, status, detail, created_at, updated_at, resolved_at
		FROM transactions WHERE tx_id = ?
	`, txID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", txID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", txID, err)
	}
	return rec, nil
}

// Unresolved returns the pending transactions, oldest first.
func (j *Journal) Unresolved(ctx context.Context) ([]Record, error) {
	return j.query(ctx, `
		SELECT tx_id, status, detail, created_at, updated_at, resolved_at
		FROM transactions WHERE status = ?
		ORDER BY created_at, tx_id
	`, StatusPending)
}

// List returns the most recently updated transactions, up to limit.
func (j *Journal) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx, `
		SELECT tx_id, status, detail, created_at, updated_at, resolved_at
		FROM transactions
		ORDER BY updated_at DESC, tx_id
		LIMIT ?
	`, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec              Record
		created, updated string
		resolved         sql.NullString
	)
	if err := s.Scan(&rec.TxID, &rec.Status, &rec.Detail, &created, &updated, &resolved); err != nil {
		return Record{}, err
	}

	var err error
	if rec.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeFormat, updated); err != nil {
		return Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if resolved.Valid {
		t, err := time.Parse(timeFormat, resolved.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse resolved_at: %w", err)
		}
		rec.ResolvedAt = &t
	}
	return rec, nil
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(timeFormat)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status, created_at)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
