package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/captable/internal/crypto"
	"github.com/example/captable/internal/equity"
)

// Schema is the vault DDL, applied by the store at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_shareholders (
    token        TEXT PRIMARY KEY,
    tax_id_last4 TEXT NOT NULL,
    ciphertext   BLOB NOT NULL,
    wrapped_key  BLOB NOT NULL,
    nonce        BLOB NOT NULL,
    key_id       TEXT NOT NULL,
    created_at   TEXT NOT NULL
);
`

// Fixed-width UTC format so the text column sorts chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store persists envelope-encrypted shareholder records in SQLite. The
// token doubles as AEAD additional data, binding each ciphertext to its
// row.
type Store struct {
	db        *sql.DB
	envelope  *crypto.Envelope
	tokenizer *Tokenizer
}

// NewStore creates a vault store and applies the schema.
func NewStore(db *sql.DB, envelope *crypto.Envelope) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply vault schema: %w", err)
	}
	return &Store{db: db, envelope: envelope, tokenizer: NewTokenizer()}, nil
}

// Record is the stored, still-encrypted shareholder row.
type Record struct {
	Token      string
	TaxIDLast4 string
	Sealed     crypto.Sealed
	CreatedAt  time.Time
}

// Put validates, tokenizes, encrypts, and inserts an identity. The
// plaintext identity is never written to the database.
func (s *Store) Put(ctx context.Context, id Identity) (*Record, error) {
	token, last4, normalized, err := s.tokenizer.ValidateAndTokenize(id)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	sealed, err := s.envelope.Encrypt(ctx, plaintext, []byte(token))
	if err != nil {
		return nil, fmt.Errorf("encrypt identity: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_shareholders
		   (token, tax_id_last4, ciphertext, wrapped_key, nonce, key_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token, last4, sealed.Ciphertext, sealed.WrappedKey, sealed.Nonce, sealed.KeyID,
		now.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert shareholder record: %w", err)
	}

	return &Record{Token: token, TaxIDLast4: last4, Sealed: *sealed, CreatedAt: now}, nil
}

// Get returns the encrypted record for a token.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, tax_id_last4, ciphertext, wrapped_key, nonce, key_id, created_at
		   FROM vault_shareholders WHERE token = ?`, token)

	var rec Record
	var createdAt string
	err := row.Scan(&rec.Token, &rec.TaxIDLast4,
		&rec.Sealed.Ciphertext, &rec.Sealed.WrappedKey, &rec.Sealed.Nonce, &rec.Sealed.KeyID,
		&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &equity.NotFoundError{ResourceType: "shareholder", ResourceID: token}
		}
		return nil, fmt.Errorf("query shareholder record: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}

// Decrypt opens a record back into the identity it holds.
func (s *Store) Decrypt(ctx context.Context, rec *Record) (Identity, error) {
	plaintext, err := s.envelope.Decrypt(ctx, &rec.Sealed, []byte(rec.Token))
	if err != nil {
		return Identity{}, fmt.Errorf("decrypt shareholder %s: %w", rec.Token, err)
	}
	var id Identity
	if err := json.Unmarshal(plaintext, &id); err != nil {
		return Identity{}, fmt.Errorf("decode shareholder %s: %w", rec.Token, err)
	}
	return id, nil
}

// RotateKey re-encrypts every record wrapped under oldKeyID with
// newKeyID, in one transaction, and returns the number of records moved.
func (s *Store) RotateKey(ctx context.Context, oldKeyID, newKeyID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, tax_id_last4, ciphertext, wrapped_key, nonce, key_id, created_at
		   FROM vault_shareholders WHERE key_id = ?`, oldKeyID)
	if err != nil {
		return 0, fmt.Errorf("query records for rotation: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(&rec.Token, &rec.TaxIDLast4,
			&rec.Sealed.Ciphertext, &rec.Sealed.WrappedKey, &rec.Sealed.Nonce, &rec.Sealed.KeyID,
			&createdAt); err != nil {
			return 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		plaintext, err := s.envelope.Decrypt(ctx, &rec.Sealed, []byte(rec.Token))
		if err != nil {
			return 0, fmt.Errorf("decrypt %s for rotation: %w", rec.Token, err)
		}
		sealed, err := s.envelope.EncryptWithKey(ctx, plaintext, []byte(rec.Token), newKeyID)
		if err != nil {
			return 0, fmt.Errorf("re-encrypt %s: %w", rec.Token, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE vault_shareholders
			    SET ciphertext = ?, wrapped_key = ?, nonce = ?, key_id = ?
			  WHERE token = ?`,
			sealed.Ciphertext, sealed.WrappedKey, sealed.Nonce, sealed.KeyID, rec.Token); err != nil {
			return 0, fmt.Errorf("update %s: %w", rec.Token, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rotation: %w", err)
	}
	return len(records), nil
}
