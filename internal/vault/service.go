package vault

import (
	"context"
	"time"

	"github.com/example/captable/pkg/audit"
)

// Service is the shareholder vault API.
type Service struct {
	store   *Store
	auditor *audit.Recorder
}

// NewService creates a vault service. The auditor may be nil.
func NewService(store *Store, auditor *audit.Recorder) *Service {
	return &Service{store: store, auditor: auditor}
}

// Shareholder is the non-sensitive view returned to callers: the token
// to use as shareholder id on the ledger, plus display fields.
type Shareholder struct {
	Token      string    `json:"shareholder_id"`
	TaxIDLast4 string    `json:"tax_id_last4"`
	CreatedAt  time.Time `json:"created_at"`
}

// Register validates and stores a shareholder identity, returning the
// token the rest of the system refers to them by. The audit entry
// records only the token and masked tax id.
func (s *Service) Register(ctx context.Context, actor string, id Identity) (*Shareholder, error) {
	rec, err := s.store.Put(ctx, id)
	if err != nil {
		return nil, err
	}
	sh := &Shareholder{Token: rec.Token, TaxIDLast4: rec.TaxIDLast4, CreatedAt: rec.CreatedAt}
	if s.auditor != nil {
		s.auditor.Record(actor, "shareholder.register", "shareholder", rec.Token, nil, sh)
	}
	return sh, nil
}

// Reveal decrypts the identity behind a token. Access to this operation
// is restricted at the transport layer; the read itself is audited.
func (s *Service) Reveal(ctx context.Context, actor, token string) (Identity, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	id, err := s.store.Decrypt(ctx, rec)
	if err != nil {
		return Identity{}, err
	}
	if s.auditor != nil {
		s.auditor.Record(actor, "shareholder.reveal", "shareholder", token, nil, nil)
	}
	return id, nil
}

// Lookup returns the non-sensitive view for a token without decrypting
// the record.
func (s *Service) Lookup(ctx context.Context, token string) (*Shareholder, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Shareholder{Token: rec.Token, TaxIDLast4: rec.TaxIDLast4, CreatedAt: rec.CreatedAt}, nil
}

// RotateKey re-encrypts every record from oldKeyID to newKeyID.
func (s *Service) RotateKey(ctx context.Context, actor, oldKeyID, newKeyID string) (int, error) {
	count, err := s.store.RotateKey(ctx, oldKeyID, newKeyID)
	if err != nil {
		return 0, err
	}
	if s.auditor != nil {
		s.auditor.Record(actor, "vault.rotate_key", "vault", newKeyID, oldKeyID, count)
	}
	return count, nil
}
