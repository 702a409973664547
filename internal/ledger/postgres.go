package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/captable/internal/equity"
)

// Schema is the DDL for the Postgres-backed ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS equity_transactions (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    tx_type TEXT NOT NULL,
    status TEXT NOT NULL,
    from_shareholder_id TEXT NOT NULL DEFAULT '',
    to_shareholder_id TEXT NOT NULL DEFAULT '',
    share_class_id TEXT NOT NULL,
    source_share_class_id TEXT NOT NULL DEFAULT '',
    quantity NUMERIC NOT NULL,
    source_quantity NUMERIC NOT NULL DEFAULT 0,
    price_per_share NUMERIC NOT NULL DEFAULT 0,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_equity_transactions_company
    ON equity_transactions (company_id, created_at, id);
`

// Pool is the subset of pgxpool.Pool the store uses; narrowed so tests can
// substitute a mock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a TransactionStore backed by Postgres. Serialization
// failures (SQLSTATE 40001) are retried once and then surfaced as
// LedgerConflict, which callers may retry whole.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore creates a Postgres-backed transaction store.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const serializationFailure = "40001"

func (p *PostgresStore) withConflictRetry(companyID string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		time.Sleep(10 * time.Millisecond)
		if err = fn(); err == nil {
			return nil
		}
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
			return &equity.LedgerConflictError{CompanyID: companyID, Detail: pgErr.Message}
		}
	}
	return err
}

func (p *PostgresStore) Insert(ctx context.Context, tx *equity.Transaction) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.withConflictRetry(tx.CompanyID, func() error {
		_, err := p.pool.Exec(queryCtx, `
			INSERT INTO equity_transactions (
				id, company_id, tx_type, status,
				from_shareholder_id, to_shareholder_id,
				share_class_id, source_share_class_id,
				quantity, source_quantity, price_per_share,
				created_by, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			tx.ID, tx.CompanyID, tx.Type, tx.Status,
			tx.FromShareholderID, tx.ToShareholderID,
			tx.ShareClassID, tx.SourceShareClassID,
			tx.Quantity, tx.SourceQuantity, tx.PricePerShare,
			tx.CreatedBy, tx.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Get(ctx context.Context, txID string) (*equity.Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := p.pool.QueryRow(queryCtx, `
		SELECT id, company_id, tx_type, status,
		       from_shareholder_id, to_shareholder_id,
		       share_class_id, source_share_class_id,
		       quantity, source_quantity, price_per_share,
		       created_by, created_at, confirmed_at
		FROM equity_transactions
		WHERE id = $1
	`, txID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &equity.NotFoundError{ResourceType: "transaction", ResourceID: txID}
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// Update persists a status transition. Confirmed rows are guarded in SQL as
// well as in the service, so a racing writer can never rewrite one.
func (p *PostgresStore) Update(ctx context.Context, tx *equity.Transaction) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.withConflictRetry(tx.CompanyID, func() error {
		tag, err := p.pool.Exec(queryCtx, `
			UPDATE equity_transactions
			SET status = $2, confirmed_at = $3
			WHERE id = $1 AND status <> 'CONFIRMED'
		`, tx.ID, tx.Status, nullableTime(tx.ConfirmedAt))
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, getErr := p.Get(ctx, tx.ID); getErr != nil {
				return getErr
			}
			return &equity.ImmutableRecordError{ResourceType: "transaction", ResourceID: tx.ID}
		}
		return nil
	})
}

func (p *PostgresStore) ListByCompany(ctx context.Context, companyID string, filter Filter) ([]*equity.Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, company_id, tx_type, status,
		       from_shareholder_id, to_shareholder_id,
		       share_class_id, source_share_class_id,
		       quantity, source_quantity, price_per_share,
		       created_by, created_at, confirmed_at
		FROM equity_transactions
		WHERE company_id = $1
	`)
	args := []any{companyID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if filter.ShareClassID != "" {
		args = append(args, filter.ShareClassID)
		fmt.Fprintf(&sb, " AND (share_class_id = $%d OR source_share_class_id = $%d)", len(args), len(args))
	}
	if !filter.AsOf.IsZero() {
		args = append(args, filter.AsOf)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at, id")

	rows, err := p.pool.Query(queryCtx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*equity.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*equity.Transaction, error) {
	var tx equity.Transaction
	var confirmedAt *time.Time
	err := row.Scan(
		&tx.ID, &tx.CompanyID, &tx.Type, &tx.Status,
		&tx.FromShareholderID, &tx.ToShareholderID,
		&tx.ShareClassID, &tx.SourceShareClassID,
		&tx.Quantity, &tx.SourceQuantity, &tx.PricePerShare,
		&tx.CreatedBy, &tx.CreatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}
	if confirmedAt != nil {
		tx.ConfirmedAt = *confirmedAt
	}
	return &tx, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
