package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// EscrowService defines the methods that the escrow handler requires from the
// service layer.
type EscrowService interface {
	Submit(ctx context.Context, stx domain.SignedTransaction) (*domain.Receipt, error)
	Config(ctx context.Context) (domain.ConfigView, error)
	Match(ctx context.Context, matchID uint64) (domain.MatchView, error)
	ListMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchView, error)
	Account(ctx context.Context, addr domain.Address) (domain.Account, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// EscrowHandler serves the transaction and query endpoints.
type EscrowHandler struct {
	escrow EscrowService
	logger *slog.Logger
}

// NewEscrowHandler creates an EscrowHandler with the given service and logger.
func NewEscrowHandler(escrow EscrowService, logger *slog.Logger) *EscrowHandler {
	return &EscrowHandler{
		escrow: escrow,
		logger: logger,
	}
}

// SubmitTransaction verifies and executes a signed instruction.
// POST /api/transactions
func (h *EscrowHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var stx domain.SignedTransaction
	if err := decodeJSON(w, r, &stx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(stx.Signatures) == 0 {
		writeError(w, http.StatusBadRequest, "at least one signature is required")
		return
	}

	receipt, err := h.escrow.Submit(r.Context(), stx)
	if err != nil {
		writeDomainError(w, r, h.logger, "submit transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// GetConfig returns the platform configuration record.
// GET /api/config
func (h *EscrowHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	view, err := h.escrow.Config(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listMatchesResponse wraps the list matches response.
type listMatchesResponse struct {
	Matches []domain.MatchView `json:"matches"`
}

// ListMatches lists matches ordered by id, optionally filtered by status.
// GET /api/matches?status=in_progress&limit=50&offset=0
func (h *EscrowHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	filter := domain.MatchFilter{ListOpts: parseListOpts(r)}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := domain.ParseMatchStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status: "+v)
			return
		}
		filter.Status = &status
	}

	matches, err := h.escrow.ListMatches(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, "list matches", err)
		return
	}
	if matches == nil {
		matches = []domain.MatchView{}
	}
	writeJSON(w, http.StatusOK, listMatchesResponse{Matches: matches})
}

// GetMatch returns one match by id.
// GET /api/matches/{id}
func (h *EscrowHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	view, err := h.escrow.Match(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get match", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetAccount returns any ledger account.
// GET /api/accounts/{address}
func (h *EscrowHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := h.escrow.Account(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns recent audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *EscrowHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.escrow.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	out := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = auditEntryResponse{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
