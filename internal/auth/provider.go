package auth

import "time"

// Provider bundles token issuance and validation for the API server. A
// nil Provider disables bearer-token auth entirely.
type Provider struct {
	Tokens   *TokenService
	Verifier *Verifier
}

// NewProvider creates a provider with a freshly generated signing key.
func NewProvider(clients ClientStore, issuer string, ttl time.Duration) (*Provider, error) {
	keys, err := NewKeySet()
	if err != nil {
		return nil, err
	}
	return &Provider{
		Tokens:   &TokenService{Clients: clients, Keys: keys, Issuer: issuer, AccessTokenTTL: ttl},
		Verifier: &Verifier{Keys: keys, Issuer: issuer},
	}, nil
}
