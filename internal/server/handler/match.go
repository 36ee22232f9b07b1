package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// MatchHandler serves the /api/matches routes.
type MatchHandler struct {
	matches domain.MatchStore
	wagers  domain.WagerStore
	cache   domain.MatchCache
	logger  *slog.Logger
}

func NewMatchHandler(matches domain.MatchStore, wagers domain.WagerStore, cache domain.MatchCache, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{matches: matches, wagers: wagers, cache: cache, logger: logger}
}

type matchJSON struct {
	ID                 uint64          `json:"id"`
	Name               string          `json:"name"`
	FixtureID          int64           `json:"fixtureId"`
	SecondaryFixtureID int64           `json:"secondaryFixtureId,omitempty"`
	Inverted           bool            `json:"inverted"`
	HomeTeam           int             `json:"teamA"`
	AwayTeam           int             `json:"teamB"`
	Winner             int             `json:"winner"`
	StartTime          time.Time       `json:"startTime"`
	CloseTime          time.Time       `json:"closeTime"`
	TotalHome          decimal.Decimal `json:"totalTeamA"`
	TotalAway          decimal.Decimal `json:"totalTeamB"`
	TotalDraw          decimal.Decimal `json:"totalDraw"`
	NumBets            int64           `json:"numBets"`
	Cancelled          bool            `json:"cancelled"`
	Locked             bool            `json:"locked"`
}

func toMatchJSON(m domain.Match) matchJSON {
	return matchJSON{
		ID:                 m.ID,
		Name:               m.Name,
		FixtureID:          m.FixtureID,
		SecondaryFixtureID: m.SecondaryFixtureID,
		Inverted:           m.Inverted,
		HomeTeam:           m.HomeTeam,
		AwayTeam:           m.AwayTeam,
		Winner:             m.Winner,
		StartTime:          m.StartTime,
		CloseTime:          m.CloseTime,
		TotalHome:          m.TotalHome,
		TotalAway:          m.TotalAway,
		TotalDraw:          m.TotalDraw,
		NumBets:            m.NumBets,
		Cancelled:          m.Cancelled,
		Locked:             m.Locked,
	}
}

type wagerJSON struct {
	MatchID   uint64          `json:"matchId"`
	ID        uint64          `json:"wagerId"`
	Bettor    string          `json:"bettor"`
	Amount    decimal.Decimal `json:"amount"`
	Outcome   int             `json:"outcome"`
	Cancelled bool            `json:"cancelled"`
	Claimed   bool            `json:"claimed"`
	Block     uint64          `json:"block"`
}

func toWagerJSON(ws []domain.Wager) []wagerJSON {
	out := make([]wagerJSON, len(ws))
	for i, w := range ws {
		out[i] = wagerJSON{
			MatchID:   w.MatchID,
			ID:        w.ID,
			Bettor:    w.Bettor,
			Amount:    w.Amount,
			Outcome:   w.Outcome,
			Cancelled: w.Cancelled,
			Claimed:   w.Claimed,
			Block:     w.Block,
		}
	}
	return out
}

// ListMatches returns persisted matches.
// GET /api/matches?limit=&offset=
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	ms, err := h.matches.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeStoreError(w, h.logger, "matches", err)
		return
	}
	out := make([]matchJSON, len(ms))
	for i, m := range ms {
		out[i] = toMatchJSON(m)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMatch returns the cached snapshot of one match.
// GET /api/matches/{id}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := matchIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	snap, err := h.cache.Snapshot(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "match", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListWagers returns the wagers placed on one match.
// GET /api/matches/{id}/wagers
func (h *MatchHandler) ListWagers(w http.ResponseWriter, r *http.Request) {
	id, ok := matchIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	ws, err := h.wagers.ListByMatch(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeStoreError(w, h.logger, "wagers", err)
		return
	}
	writeJSON(w, http.StatusOK, toWagerJSON(ws))
}
