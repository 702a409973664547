package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the typed error taxonomy onto HTTP statuses.
// Anything unrecognized is treated as a bad request rather than a server
// error: the services validate input, so unknown errors are caller
// mistakes until proven otherwise.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound     *equity.NotFoundError
		transition   *equity.InvalidStateTransitionError
		immutable    *equity.ImmutableRecordError
		insufficient *equity.InsufficientBalanceError
		dilution     *equity.DilutionComputationError
		conflict     *equity.LedgerConflictError
	)

	switch {
	case errors.As(err, &notFound):
		security.WriteJSONErrorDetail(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &transition):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.As(err, &immutable):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "immutable_record", err.Error())
	case errors.As(err, &insufficient):
		security.WriteJSONErrorDetail(w, r, http.StatusUnprocessableEntity, "insufficient_balance", err.Error())
	case errors.As(err, &dilution):
		security.WriteJSONErrorDetail(w, r, http.StatusUnprocessableEntity, "dilution_failed", err.Error())
	case errors.As(err, &conflict):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "ledger_conflict", err.Error())
	default:
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	}
}
