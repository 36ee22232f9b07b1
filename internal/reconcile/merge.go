package reconcile

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// Merge combines on-chain match state with the feed's fixture. Missing goals
// count as zero and the score is swapped for inverted matches.
func Merge(m domain.Match, f domain.Fixture, at time.Time) domain.MatchSnapshot {
	home, away := goals(f.HomeGoals), goals(f.AwayGoals)
	if m.Inverted {
		home, away = away, home
	}
	status := f.Status
	if status == "" {
		status = domain.InitialMatchStatus
	}
	return domain.MatchSnapshot{
		MatchID:           m.ID,
		Status:            status,
		Score:             fmt.Sprintf("%d-%d", home, away),
		NumBets:           m.NumBets,
		TotalHome:         m.TotalHome,
		TotalAway:         m.TotalAway,
		TotalDraw:         m.TotalDraw,
		NumPayoutAttempts: m.NumPayoutAttempts,
		LastMetaUpdate:    at,
	}
}

func goals(g *int) int {
	if g == nil {
		return 0
	}
	return *g
}
