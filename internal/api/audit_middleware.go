package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/captable/internal/security"
	"github.com/example/captable/pkg/audit"
)

// Auditor records request-level entries onto the audit chain.
type Auditor interface {
	Record(actor, action, resourceType, resourceID string, before, after any) *audit.Entry
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// AuditMiddleware appends one chain entry per request.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			cid := security.CorrelationIDFromContext(r.Context())
			detail := fmt.Sprintf("status=%d dur_ms=%d", sw.status, dur.Milliseconds())
			a.Record(cid, "http."+r.Method, "endpoint", r.URL.Path, nil, detail)
		})
	}
}
