package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/captable/internal/security"
)

// RequestLogger emits one structured line per request. Cap-table routes
// carry the company and transaction route params, so operators can grep a
// company's full request history out of the log stream.
func RequestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			attrs := []any{
				"cid", security.CorrelationIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", dur.Milliseconds(),
			}
			// Route params are populated once the router has dispatched.
			if companyID := chi.URLParam(r, "company_id"); companyID != "" {
				attrs = append(attrs, "company_id", companyID)
			}
			if txID := chi.URLParam(r, "transaction_id"); txID != "" {
				attrs = append(attrs, "transaction_id", txID)
			}

			l.Info("captable_request", attrs...)
		})
	}
}
