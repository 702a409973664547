package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/captable/internal/security"
)

type authInfoKey struct{}

// Info is the authenticated caller attached to the request context.
type Info struct {
	ClientID string
	Scopes   map[string]struct{}
}

// InfoFromContext returns the authenticated caller, if any.
func InfoFromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(authInfoKey{}).(*Info)
	return info, ok
}

// Verifier validates bearer tokens against the issuing key set.
type Verifier struct {
	Keys   *KeySet
	Issuer string
}

// Validate parses and verifies a signed access token.
func (v *Verifier) Validate(tokenString string) (*AccessTokenClaims, error) {
	if v.Keys == nil || v.Keys.PublicKey() == nil {
		return nil, errors.New("missing key set")
	}

	claims := &AccessTokenClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.Keys.PublicKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if v.Issuer != "" && claims.Issuer != v.Issuer {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

// Authenticate rejects requests without a valid bearer token and attaches
// the caller to the context.
func Authenticate(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := v.Validate(strings.TrimSpace(authz[len("Bearer "):]))
			if err != nil {
				security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			scopes := make(map[string]struct{}, len(claims.Scopes))
			for _, s := range claims.Scopes {
				scopes[s] = struct{}{}
			}
			info := &Info{ClientID: claims.ClientID, Scopes: scopes}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authInfoKey{}, info)))
		})
	}
}

// RequireScope rejects authenticated requests whose token lacks the
// scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := InfoFromContext(r.Context())
			if !ok {
				security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, ok := info.Scopes[scope]; !ok {
				security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
