package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Scopes understood by the API. Reads need ScopeRead; ledger and
// snapshot mutation needs ScopeWrite; decrypting shareholder identities
// needs ScopeVault.
const (
	ScopeRead  = "captable:read"
	ScopeWrite = "captable:write"
	ScopeVault = "vault:reveal"
)

// ErrClientNotFound is returned by client stores for unknown client ids.
var ErrClientNotFound = errors.New("client not found")

// Client is an API client allowed to request tokens.
type Client struct {
	ID         string
	SecretHash string
	Scopes     []string
}

// ClientStore resolves API clients by id.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// MemoryClientStore keeps clients in memory, for single-binary and test
// deployments.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*Client)}
}

// Register hashes the secret and stores the client.
func (s *MemoryClientStore) Register(clientID, secret string, scopes []string) error {
	hash, err := HashClientSecret(secret)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = &Client{ID: clientID, SecretHash: hash, Scopes: scopes}
	return nil
}

func (s *MemoryClientStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	copied := *c
	return &copied, nil
}

func HashClientSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func VerifyClientSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// TokenService issues access tokens for the client-credentials grant.
type TokenService struct {
	Clients        ClientStore
	Keys           *KeySet
	Issuer         string
	AccessTokenTTL time.Duration
}

// AccessTokenClaims are the claims carried by issued tokens.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// TokenHandler implements POST /v1/oauth/token for the
// client_credentials grant. Credentials come from Basic auth or form
// fields; requested scopes narrow the client's registered set.
func (s *TokenService) TokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.FormValue("grant_type") != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" || clientSecret == "" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	client, err := s.Clients.GetClient(r.Context(), clientID)
	if err != nil || !VerifyClientSecret(client.SecretHash, clientSecret) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	requested := strings.Fields(r.FormValue("scope"))
	granted := intersectScopes(client.Scopes, requested)
	if len(requested) > 0 && len(granted) == 0 {
		writeOAuthError(w, http.StatusForbidden, "invalid_scope")
		return
	}

	ttl := s.AccessTokenTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   client.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		ClientID: client.ID,
		Scopes:   granted,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.Keys.KeyID()
	signed, err := tok.SignedString(s.Keys.PrivateKey())
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Scope:       strings.Join(granted, " "),
	})
}

// JWKSHandler serves the public signing keys.
func (s *TokenService) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.Keys.JWKS()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// intersectScopes returns the registered scopes when none are requested,
// otherwise the requested scopes the client actually holds.
func intersectScopes(registered, requested []string) []string {
	allowed := make(map[string]struct{}, len(registered))
	for _, s := range registered {
		if s = strings.TrimSpace(s); s != "" {
			allowed[s] = struct{}{}
		}
	}
	if len(requested) == 0 {
		out := make([]string, 0, len(allowed))
		for s := range allowed {
			out = append(out, s)
		}
		sort.Strings(out)
		return out
	}
	var out []string
	for _, s := range requested {
		if _, ok := allowed[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
