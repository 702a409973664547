package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/captable/internal/auth"
	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/query"
	"github.com/example/captable/internal/security"
	"github.com/example/captable/internal/snapshot"
	"github.com/example/captable/internal/vault"
)

type Dependencies struct {
	Logger *slog.Logger

	CapTables interface {
		CurrentCapTable(ctx context.Context, companyID, shareClassFilter string) (*captable.CapTable, error)
		FullyDiluted(ctx context.Context, companyID string) (*captable.DilutedCapTable, error)
		History(ctx context.Context, companyID string, limit, offset int) ([]*snapshot.Record, error)
		VerifyIntegrity(ctx context.Context, companyID string) (*snapshot.Report, error)
		BuildExport(ctx context.Context, companyID, format string) (*query.Export, error)
		CreateSnapshot(ctx context.Context, companyID, trigger string) (*snapshot.Record, error)
	}
	Ledger interface {
		Append(ctx context.Context, req ledger.AppendRequest) (*equity.Transaction, error)
		Transition(ctx context.Context, txID string, to equity.TransactionStatus, actor string) (*equity.Transaction, error)
	}

	// Shareholders is the identity vault; nil disables the shareholder
	// endpoints.
	Shareholders interface {
		Register(ctx context.Context, actor string, id vault.Identity) (*vault.Shareholder, error)
		Lookup(ctx context.Context, token string) (*vault.Shareholder, error)
		Reveal(ctx context.Context, actor, token string) (vault.Identity, error)
	}

	// Auth enables bearer-token authentication when non-nil.
	Auth *auth.Provider

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// guard returns the auth middleware pair for a scope, or pass-throughs
// when auth is disabled.
func (d Dependencies) guard(scope string) []func(http.Handler) http.Handler {
	if d.Auth == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{
		auth.Authenticate(d.Auth.Verifier),
		auth.RequireScope(scope),
	}
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	appendV, err := security.NewJSONSchemaValidator(appendTransactionSchema)
	if err != nil {
		return nil, err
	}
	transitionV, err := security.NewJSONSchemaValidator(transitionSchema)
	if err != nil {
		return nil, err
	}
	exportV, err := security.NewJSONSchemaValidator(exportSchema)
	if err != nil {
		return nil, err
	}
	snapshotV, err := security.NewJSONSchemaValidator(snapshotSchema)
	if err != nil {
		return nil, err
	}
	shareholderV, err := security.NewJSONSchemaValidator(shareholderSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if deps.Auth != nil {
		r.Post("/v1/oauth/token", deps.Auth.Tokens.TokenHandler)
		r.Get("/.well-known/jwks.json", deps.Auth.Tokens.JWKSHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/companies/{company_id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.guard(auth.ScopeRead)...)
				r.Get("/captable", handleCurrentCapTable(deps))
				r.Get("/captable/diluted", handleDilutedCapTable(deps))
				r.Get("/history", handleHistory(deps))
				r.Get("/integrity", handleIntegrity(deps))
			})

			r.Group(func(r chi.Router) {
				r.Use(deps.guard(auth.ScopeWrite)...)
				r.With(exportV.Middleware).Post("/export", handleExport(deps))
				r.With(snapshotV.Middleware).Post("/snapshots", handleCreateSnapshot(deps))
				r.With(appendV.Middleware).Post("/transactions", handleAppendTransaction(deps))
			})
		})

		r.With(append(deps.guard(auth.ScopeWrite), transitionV.Middleware)...).
			Post("/transactions/{transaction_id}/transition", handleTransition(deps))

		if deps.Shareholders != nil {
			r.Route("/shareholders", func(r chi.Router) {
				r.With(append(deps.guard(auth.ScopeWrite), shareholderV.Middleware)...).
					Post("/", handleRegisterShareholder(deps))
				r.With(deps.guard(auth.ScopeRead)...).Get("/{shareholder_id}", handleLookupShareholder(deps))
				r.With(deps.guard(auth.ScopeVault)...).Get("/{shareholder_id}/identity", handleRevealShareholder(deps))
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
