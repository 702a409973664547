package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/auth"
	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/query"
	"github.com/example/captable/internal/security"
	"github.com/example/captable/internal/snapshot"
	"github.com/example/captable/internal/vault"
)

type capTableResponse struct {
	CorrelationID string             `json:"correlation_id"`
	CapTable      *captable.CapTable `json:"cap_table"`
}

type dilutedResponse struct {
	CorrelationID string                    `json:"correlation_id"`
	CapTable      *captable.DilutedCapTable `json:"cap_table"`
}

type historyResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Snapshots     []*snapshot.Record `json:"snapshots"`
	Total         int                `json:"total"`
}

type integrityResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Report        *snapshot.Report `json:"report"`
}

type exportRequest struct {
	Format string `json:"format"`
}

type exportResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Export        *query.Export `json:"export"`
}

type snapshotRequest struct {
	Trigger string `json:"trigger"`
}

type snapshotResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Snapshot      *snapshot.Record `json:"snapshot"`
}

type appendTransactionRequest struct {
	Type               string          `json:"type"`
	FromShareholderID  string          `json:"from_shareholder_id"`
	ToShareholderID    string          `json:"to_shareholder_id"`
	ShareClassID       string          `json:"share_class_id"`
	SourceShareClassID string          `json:"source_share_class_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	SourceQuantity     decimal.Decimal `json:"source_quantity"`
	PricePerShare      decimal.Decimal `json:"price_per_share"`
	CreatedBy          string          `json:"created_by"`
}

type transactionResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Transaction   *equity.Transaction `json:"transaction"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

type shareholderRequest struct {
	LegalName string `json:"legal_name"`
	Email     string `json:"email"`
	TaxID     string `json:"tax_id"`
	Actor     string `json:"actor"`
}

type shareholderResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Shareholder   *vault.Shareholder `json:"shareholder"`
}

type identityResponse struct {
	CorrelationID string         `json:"correlation_id"`
	ShareholderID string         `json:"shareholder_id"`
	Identity      vault.Identity `json:"identity"`
}

// requestActor names the caller for audit entries: the authenticated
// client when auth is on, otherwise the fallback from the request body.
func requestActor(r *http.Request, fallback string) string {
	if info, ok := auth.InfoFromContext(r.Context()); ok {
		return info.ClientID
	}
	if fallback != "" {
		return fallback
	}
	return "anonymous"
}

func handleCurrentCapTable(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		companyID := chi.URLParam(r, "company_id")
		table, err := deps.CapTables.CurrentCapTable(r.Context(), companyID, r.URL.Query().Get("share_class"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, capTableResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			CapTable:      table,
		})
	}
}

func handleDilutedCapTable(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		companyID := chi.URLParam(r, "company_id")
		table, err := deps.CapTables.FullyDiluted(r.Context(), companyID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, dilutedResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			CapTable:      table,
		})
	}
}

func handleHistory(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		limit, offset := 0, 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				limit = i
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				offset = i
			}
		}

		companyID := chi.URLParam(r, "company_id")
		snaps, err := deps.CapTables.History(r.Context(), companyID, limit, offset)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, historyResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Snapshots:     snaps,
			Total:         len(snaps),
		})
	}
}

func handleIntegrity(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		companyID := chi.URLParam(r, "company_id")
		report, err := deps.CapTables.VerifyIntegrity(r.Context(), companyID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, integrityResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Report:        report,
		})
	}
}

func handleExport(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		companyID := chi.URLParam(r, "company_id")
		export, err := deps.CapTables.BuildExport(r.Context(), companyID, req.Format)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, exportResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Export:        export,
		})
	}
}

func handleCreateSnapshot(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CapTables == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "captable_unavailable")
			return
		}

		var req snapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Trigger == "" {
			req.Trigger = "MANUAL"
		}

		companyID := chi.URLParam(r, "company_id")
		snap, err := deps.CapTables.CreateSnapshot(r.Context(), companyID, req.Trigger)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, snapshotResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Snapshot:      snap,
		})
	}
}

func handleAppendTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		var req appendTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		tx, err := deps.Ledger.Append(r.Context(), ledger.AppendRequest{
			CompanyID:          chi.URLParam(r, "company_id"),
			Type:               equity.TransactionType(req.Type),
			FromShareholderID:  req.FromShareholderID,
			ToShareholderID:    req.ToShareholderID,
			ShareClassID:       req.ShareClassID,
			SourceShareClassID: req.SourceShareClassID,
			Quantity:           req.Quantity,
			SourceQuantity:     req.SourceQuantity,
			PricePerShare:      req.PricePerShare,
			CreatedBy:          req.CreatedBy,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, transactionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transaction:   tx,
		})
	}
}

func handleTransition(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		txID := chi.URLParam(r, "transaction_id")
		if txID == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
			return
		}

		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		tx, err := deps.Ledger.Transition(r.Context(), txID, equity.TransactionStatus(req.Status), req.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transactionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transaction:   tx,
		})
	}
}

func handleRegisterShareholder(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shareholderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		sh, err := deps.Shareholders.Register(r.Context(), requestActor(r, req.Actor), vault.Identity{
			LegalName: req.LegalName,
			Email:     req.Email,
			TaxID:     req.TaxID,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, shareholderResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Shareholder:   sh,
		})
	}
}

func handleLookupShareholder(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh, err := deps.Shareholders.Lookup(r.Context(), chi.URLParam(r, "shareholder_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, shareholderResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Shareholder:   sh,
		})
	}
}

func handleRevealShareholder(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "shareholder_id")
		id, err := deps.Shareholders.Reveal(r.Context(), requestActor(r, ""), token)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, identityResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			ShareholderID: token,
			Identity:      id,
		})
	}
}
