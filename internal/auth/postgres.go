package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientSchema is the DDL for the API client table, applied at startup
// alongside the ledger schema.
const ClientSchema = `
CREATE TABLE IF NOT EXISTS api_clients (
    client_id   TEXT PRIMARY KEY,
    secret_hash TEXT NOT NULL,
    scopes      TEXT[] NOT NULL DEFAULT '{}'
);
`

// PostgresClientStore resolves API clients from Postgres.
type PostgresClientStore struct {
	Pool *pgxpool.Pool
}

func (s *PostgresClientStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	if s.Pool == nil {
		return nil, errors.New("missing pool")
	}

	var c Client
	err := s.Pool.QueryRow(ctx,
		`SELECT client_id, secret_hash, scopes FROM api_clients WHERE client_id = $1`,
		clientID).Scan(&c.ID, &c.SecretHash, &c.Scopes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Register upserts a client, hashing the secret. Used to seed the
// configured client at startup.
func (s *PostgresClientStore) Register(ctx context.Context, clientID, secret string, scopes []string) error {
	hash, err := HashClientSecret(secret)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO api_clients (client_id, secret_hash, scopes) VALUES ($1, $2, $3)
		 ON CONFLICT (client_id) DO UPDATE SET secret_hash = EXCLUDED.secret_hash, scopes = EXCLUDED.scopes`,
		clientID, hash, scopes)
	return err
}
