package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) (*Provider, *MemoryClientStore) {
	t.Helper()
	clients := NewMemoryClientStore()
	require.NoError(t, clients.Register("svc-captable", "s3cret", []string{ScopeRead, ScopeWrite}))

	p, err := NewProvider(clients, "captable-api", time.Minute)
	require.NoError(t, err)
	return p, clients
}

func requestToken(t *testing.T, p *Provider, form url.Values, basicUser, basicPass string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	rr := httptest.NewRecorder()
	p.Tokens.TokenHandler(rr, req)
	return rr
}

func TestClientCredentialsFlow(t *testing.T) {
	p, _ := newProvider(t)

	rr := requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-captable", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(60), resp.ExpiresIn)
	assert.Equal(t, ScopeRead+" "+ScopeWrite, resp.Scope)

	claims, err := p.Verifier.Validate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "svc-captable", claims.ClientID)
	assert.Equal(t, "captable-api", claims.Issuer)
	assert.ElementsMatch(t, []string{ScopeRead, ScopeWrite}, claims.Scopes)
}

func TestTokenEndpointRejectsBadCredentials(t *testing.T) {
	p, _ := newProvider(t)

	rr := requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-captable", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-unknown", "s3cret")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = requestToken(t, p, url.Values{"grant_type": {"password"}}, "svc-captable", "s3cret")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenEndpointScopeNarrowing(t *testing.T) {
	p, _ := newProvider(t)

	rr := requestToken(t, p, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {ScopeRead},
	}, "svc-captable", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, ScopeRead, resp.Scope)

	// A scope the client does not hold is refused outright.
	rr = requestToken(t, p, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {ScopeVault},
	}, "svc-captable", "s3cret")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestJWKSHandler(t *testing.T) {
	p, _ := newProvider(t)

	rr := httptest.NewRecorder()
	p.Tokens.JWKSHandler(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var jwks JWKS
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "RSA", jwks.Keys[0].Kty)
	assert.Equal(t, "RS256", jwks.Keys[0].Alg)
	assert.Equal(t, p.Tokens.Keys.KeyID(), jwks.Keys[0].Kid)
	assert.NotEmpty(t, jwks.Keys[0].N)
}

func TestAuthenticateAndRequireScope(t *testing.T) {
	p, _ := newProvider(t)

	rr := requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-captable", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	var gotClient string
	handler := Authenticate(p.Verifier)(RequireScope(ScopeWrite)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, _ := InfoFromContext(r.Context())
			gotClient = info.ClientID
		})))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	req := httptest.NewRequest(http.MethodPost, "/v1/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token with the right scope.
	req = httptest.NewRequest(http.MethodPost, "/v1/x", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "svc-captable", gotClient)
}

func TestRequireScopeRejectsMissingScope(t *testing.T) {
	clients := NewMemoryClientStore()
	require.NoError(t, clients.Register("svc-reader", "s3cret", []string{ScopeRead}))
	p, err := NewProvider(clients, "captable-api", time.Minute)
	require.NoError(t, err)

	rr := requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-reader", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	handler := Authenticate(p.Verifier)(RequireScope(ScopeWrite)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodPost, "/v1/x", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	clients := NewMemoryClientStore()
	require.NoError(t, clients.Register("svc-captable", "s3cret", []string{ScopeRead}))
	p, err := NewProvider(clients, "captable-api", -time.Minute)
	require.NoError(t, err)

	rr := requestToken(t, p, url.Values{"grant_type": {"client_credentials"}}, "svc-captable", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	_, err = p.Verifier.Validate(resp.AccessToken)
	assert.Error(t, err)
}
