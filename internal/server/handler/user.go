package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// UserHandler serves GET /api/users/{address}.
type UserHandler struct {
	checkpoints domain.CheckpointStore
	wagers      domain.WagerStore
	logger      *slog.Logger
}

func NewUserHandler(cp domain.CheckpointStore, wagers domain.WagerStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{checkpoints: cp, wagers: wagers, logger: logger}
}

// GetUser returns a bettor's cached total and wager keys plus their stored
// wagers.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	addr = strings.ToLower(common.HexToAddress(addr).Hex())

	totals, err := h.checkpoints.UserTotals(r.Context(), addr)
	if err != nil {
		writeStoreError(w, h.logger, "user", err)
		return
	}
	ws, err := h.wagers.ListByBettor(r.Context(), addr, parseListOpts(r))
	if err != nil {
		writeStoreError(w, h.logger, "wagers", err)
		return
	}
	ids := totals.WagerIDs
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr,
		"totalBet": totals.TotalBet,
		"betIds":   ids,
		"wagers":   toWagerJSON(ws),
	})
}
