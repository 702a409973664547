package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/captable/internal/equity"
)

// SQLiteStore persists snapshot chains in SQLite. The table carries no
// UPDATE or DELETE path: snapshots only ever get appended.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteSchema is the DDL for the snapshot store.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS cap_table_snapshots (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    snapshot_date TEXT NOT NULL,
    total_shares TEXT NOT NULL,
    total_shareholders INTEGER NOT NULL,
    trigger_event TEXT NOT NULL,
    state_hash TEXT NOT NULL,
    previous_hash TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_company
    ON cap_table_snapshots (company_id, created_at);
`

// timeFormat is fixed-width so lexicographic ORDER BY on the text column
// matches chronological order. RFC3339Nano trims trailing zeros and would
// not.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// NewSQLiteStore creates a snapshot store over an open SQLite database and
// ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(SQLiteSchema); err != nil {
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM cap_table_snapshots WHERE id = ?`, rec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	if exists > 0 {
		return &equity.ImmutableRecordError{ResourceType: "snapshot", ResourceID: rec.ID}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cap_table_snapshots (
			id, company_id, snapshot_date, total_shares, total_shareholders,
			trigger_event, state_hash, previous_hash, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.CompanyID,
		rec.SnapshotDate.UTC().Format(timeFormat),
		rec.TotalShares.String(), rec.TotalShareholders,
		rec.Trigger, rec.StateHash, rec.PreviousHash, rec.Payload,
		rec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, companyID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE company_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, companyID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, companyID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE company_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) ListChronological(ctx context.Context, companyID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE company_id = ?
		ORDER BY created_at ASC, id ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

const selectColumns = `
	SELECT id, company_id, snapshot_date, total_shares, total_shareholders,
	       trigger_event, state_hash, previous_hash, payload, created_at
	FROM cap_table_snapshots
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var snapshotDate, totalShares, createdAt string
	err := row.Scan(
		&rec.ID, &rec.CompanyID, &snapshotDate, &totalShares, &rec.TotalShareholders,
		&rec.Trigger, &rec.StateHash, &rec.PreviousHash, &rec.Payload, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.SnapshotDate, err = time.Parse(timeFormat, snapshotDate); err != nil {
		return nil, fmt.Errorf("invalid snapshot_date: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if err = rec.TotalShares.UnmarshalJSON([]byte(`"` + totalShares + `"`)); err != nil {
		return nil, fmt.Errorf("invalid total_shares: %w", err)
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
