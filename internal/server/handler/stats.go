package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	checkpoints domain.CheckpointStore
	matches     domain.MatchStore
	logger      *slog.Logger
}

func NewStatsHandler(cp domain.CheckpointStore, matches domain.MatchStore, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{checkpoints: cp, matches: matches, logger: logger}
}

// GetStats returns the global counters and the number of known matches.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	c, err := h.checkpoints.Counters(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "counters", err)
		return
	}
	n, err := h.matches.Count(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, "matches", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"numBets":    c.NumBets,
		"totalBet":   c.TotalBet,
		"totalWon":   c.TotalWon,
		"numMatches": n,
	})
}
