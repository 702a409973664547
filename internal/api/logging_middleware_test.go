package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/captable/internal/security"
)

func TestRequestLoggerIncludesRouteParams(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(logger))
	r.Get("/v1/companies/{company_id}/captable", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/companies/co-9/captable", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "captable_request", line["msg"])
	assert.Equal(t, "co-9", line["company_id"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, http.MethodGet, line["method"])
	assert.NotEmpty(t, line["cid"])
}

func TestRequestLoggerNilLoggerPassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger(nil))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
