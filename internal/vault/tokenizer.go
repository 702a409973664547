// Package vault stores shareholder identity records encrypted at rest.
// The ledger and cap-table views carry only the opaque shareholder
// tokens minted here; the personal data behind a token never leaves the
// vault unencrypted.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Identity is the decrypted shareholder record.
type Identity struct {
	LegalName string `json:"legal_name"`
	Email     string `json:"email"`
	TaxID     string `json:"tax_id"`
}

var (
	namePattern  = regexp.MustCompile(`^[\p{L}][\p{L}\s.,'\-]*$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	taxIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{8,20}$`)
)

// Tokenizer validates shareholder identities and mints their tokens.
type Tokenizer struct{}

// NewTokenizer creates a tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// ValidateAndTokenize validates an identity and returns a fresh token
// plus the last four characters of the tax id for display.
func (t *Tokenizer) ValidateAndTokenize(id Identity) (token, taxIDLast4 string, normalized Identity, err error) {
	normalized = Identity{
		LegalName: strings.TrimSpace(id.LegalName),
		Email:     strings.TrimSpace(id.Email),
		TaxID:     normalizeTaxID(id.TaxID),
	}

	if normalized.LegalName == "" || len(normalized.LegalName) > 255 {
		return "", "", Identity{}, fmt.Errorf("legal_name must be 1-255 characters")
	}
	if !namePattern.MatchString(normalized.LegalName) {
		return "", "", Identity{}, fmt.Errorf("legal_name contains invalid characters")
	}
	if !emailPattern.MatchString(normalized.Email) {
		return "", "", Identity{}, fmt.Errorf("email is not a valid address")
	}
	if !taxIDPattern.MatchString(normalized.TaxID) {
		return "", "", Identity{}, fmt.Errorf("tax_id must be 8-20 alphanumeric characters")
	}

	token, err = t.generateToken()
	if err != nil {
		return "", "", Identity{}, fmt.Errorf("generate token: %w", err)
	}
	return token, normalized.TaxID[len(normalized.TaxID)-4:], normalized, nil
}

// normalizeTaxID strips the separators tax authorities print but
// registries should not store.
func normalizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r == ' ' || r == '-' || r == '.' || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t *Tokenizer) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sh_" + hex.EncodeToString(b), nil
}
