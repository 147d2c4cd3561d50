package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// Funder credits development balances.
type Funder interface {
	Fund(ctx context.Context, addr domain.Address, amount uint64) (domain.Account, error)
}

// FaucetHandler serves the development faucet. It is only registered when
// the faucet is enabled.
type FaucetHandler struct {
	funder Funder
	limit  uint64
	logger *slog.Logger
}

// NewFaucetHandler creates a FaucetHandler capping each credit at limit.
func NewFaucetHandler(funder Funder, limit uint64, logger *slog.Logger) *FaucetHandler {
	return &FaucetHandler{funder: funder, limit: limit, logger: logger}
}

type faucetRequest struct {
	Address domain.Address `json:"address"`
	Amount  uint64         `json:"amount"`
}

// Fund credits an address.
// POST /api/faucet
func (h *FaucetHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address.IsZero() {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Amount == 0 || req.Amount > h.limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("amount must be between 1 and %d", h.limit))
		return
	}

	acct, err := h.funder.Fund(r.Context(), req.Address, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "faucet", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: faucet credit",
		slog.String("address", req.Address.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, acct)
}
