package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// Schema is the DDL for the Postgres-backed registry. Applied at startup
// alongside the ledger schema so captabled and snapshotd share one source
// of share class truth.
const Schema = `
CREATE TABLE IF NOT EXISTS share_classes (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL,
    class_type TEXT NOT NULL,
    total_authorized NUMERIC NOT NULL,
    total_issued NUMERIC NOT NULL DEFAULT 0,
    votes_per_share BIGINT NOT NULL DEFAULT 0,
    liquidation_preference_multiple NUMERIC NOT NULL DEFAULT 0,
    participating_rights BOOLEAN NOT NULL DEFAULT FALSE,
    participation_cap NUMERIC NOT NULL DEFAULT 0,
    seniority INTEGER NOT NULL DEFAULT 0,
    conversion_ratio NUMERIC NOT NULL DEFAULT 1,
    anti_dilution_type TEXT NOT NULL DEFAULT 'NONE',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_share_classes_company
    ON share_classes (company_id, created_at, id);
`

// Pool is the subset of pgxpool.Pool the store uses; narrowed so tests can
// substitute a mock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by Postgres. The issuance bounds are
// enforced in the UPDATE predicates, so concurrent writers from separate
// processes cannot over-issue a class between read and write.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore creates a Postgres-backed share class store.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const classColumns = `id, company_id, name, class_type,
       total_authorized, total_issued, votes_per_share,
       liquidation_preference_multiple, participating_rights, participation_cap,
       seniority, conversion_ratio, anti_dilution_type, created_at`

func (p *PostgresStore) Insert(ctx context.Context, class *equity.ShareClass) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.pool.Exec(queryCtx, `
		INSERT INTO share_classes (
			id, company_id, name, class_type,
			total_authorized, total_issued, votes_per_share,
			liquidation_preference_multiple, participating_rights, participation_cap,
			seniority, conversion_ratio, anti_dilution_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		class.ID, class.CompanyID, class.Name, class.Type,
		class.TotalAuthorized, class.TotalIssued, class.VotesPerShare,
		class.LiquidationPreferenceMultiple, class.ParticipatingRights, class.ParticipationCap,
		class.Seniority, class.ConversionRatio, class.AntiDilutionType, class.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert share class: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, classID string) (*equity.ShareClass, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := p.pool.QueryRow(queryCtx,
		`SELECT `+classColumns+` FROM share_classes WHERE id = $1`, classID)

	class, err := scanClass(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
		}
		return nil, fmt.Errorf("failed to get share class: %w", err)
	}
	return class, nil
}

func (p *PostgresStore) ListByCompany(ctx context.Context, companyID string) ([]*equity.ShareClass, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := p.pool.Query(queryCtx,
		`SELECT `+classColumns+` FROM share_classes WHERE company_id = $1 ORDER BY created_at, id`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list share classes: %w", err)
	}
	defer rows.Close()

	var out []*equity.ShareClass
	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share class: %w", err)
		}
		out = append(out, class)
	}
	return out, rows.Err()
}

// AdjustIssued enforces 0 <= totalIssued+delta <= totalAuthorized in the
// UPDATE predicate; a zero-row result is disambiguated with a follow-up
// read.
func (p *PostgresStore) AdjustIssued(ctx context.Context, classID string, delta decimal.Decimal) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := p.pool.Exec(queryCtx, `
		UPDATE share_classes
		SET total_issued = total_issued + $2
		WHERE id = $1
		  AND total_issued + $2 >= 0
		  AND total_issued + $2 <= total_authorized
	`, classID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust issued total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		class, getErr := p.Get(ctx, classID)
		if getErr != nil {
			return getErr
		}
		if class.TotalIssued.Add(delta).IsNegative() {
			return fmt.Errorf("total issued for class %s cannot go negative", classID)
		}
		return fmt.Errorf("issuing %s shares would exceed authorized total %s for class %s",
			delta.String(), class.TotalAuthorized.String(), classID)
	}
	return nil
}

func (p *PostgresStore) ApplySplit(ctx context.Context, classID string, ratio decimal.Decimal) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := p.pool.Exec(queryCtx, `
		UPDATE share_classes
		SET total_authorized = total_authorized * $2,
		    total_issued = total_issued * $2
		WHERE id = $1
	`, classID, ratio)
	if err != nil {
		return fmt.Errorf("failed to apply split: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, classID string) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := p.pool.Exec(queryCtx,
		`DELETE FROM share_classes WHERE id = $1 AND total_issued = 0`, classID)
	if err != nil {
		return fmt.Errorf("failed to delete share class: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := p.Get(ctx, classID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("share class %s has issued shares and cannot be deleted", classID)
	}
	return nil
}

func scanClass(row pgx.Row) (*equity.ShareClass, error) {
	var class equity.ShareClass
	err := row.Scan(
		&class.ID, &class.CompanyID, &class.Name, &class.Type,
		&class.TotalAuthorized, &class.TotalIssued, &class.VotesPerShare,
		&class.LiquidationPreferenceMultiple, &class.ParticipatingRights, &class.ParticipationCap,
		&class.Seniority, &class.ConversionRatio, &class.AntiDilutionType, &class.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &class, nil
}
