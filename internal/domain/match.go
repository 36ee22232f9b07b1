package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome values a wager can back. Winner uses the same values, with
// OutcomeNone meaning the match is undecided.
const (
	OutcomeNone = 0
	OutcomeHome = 1
	OutcomeAway = 2
	OutcomeDraw = 3
)

// Match is a contract-defined fixture with betting aggregates.
type Match struct {
	ID                 uint64
	Name               string
	FixtureID          int64
	SecondaryFixtureID int64
	// Inverted is set when the contract's home team is the feed's away team.
	Inverted          bool
	HomeTeam          int
	AwayTeam          int
	Winner            int
	StartTime         time.Time
	CloseTime         time.Time
	TotalHome         decimal.Decimal
	TotalAway         decimal.Decimal
	TotalDraw         decimal.Decimal
	NumBets           int64
	Cancelled         bool
	Locked            bool
	NumPayoutAttempts int
	UpdatedAt         time.Time
}

// Terminal reports whether no further reconciliation can change the match.
func (m Match) Terminal() bool {
	return m.Winner != OutcomeNone || m.Cancelled
}

// Team is an entry of the fixed reference roster.
type Team struct {
	ID   int
	Name string
}

// FixtureStatus is the external feed's view of a match.
type FixtureStatus string

const (
	FixtureScheduled FixtureStatus = "SCHEDULED"
	FixtureTimed     FixtureStatus = "TIMED"
	FixtureInPlay    FixtureStatus = "IN_PLAY"
	FixturePaused    FixtureStatus = "PAUSED"
	FixtureFinished  FixtureStatus = "FINISHED"
	FixturePostponed FixtureStatus = "POSTPONED"
	FixtureSuspended FixtureStatus = "SUSPENDED"
	FixtureCancelled FixtureStatus = "CANCELLED"
)

// Fixture is a single response from the fixture feed. Nil goals mean the
// feed has not reported a score yet.
type Fixture struct {
	ID        int64
	Status    FixtureStatus
	HomeGoals *int
	AwayGoals *int
}

// MatchSnapshot is the cached, reconciled view of one match.
type MatchSnapshot struct {
	MatchID           uint64          `json:"matchId"`
	Status            FixtureStatus   `json:"status"`
	Score             string          `json:"score"`
	NumBets           int64           `json:"totalNumBets"`
	TotalHome         decimal.Decimal `json:"totalTeamA"`
	TotalAway         decimal.Decimal `json:"totalTeamB"`
	TotalDraw         decimal.Decimal `json:"totalDraw"`
	NumPayoutAttempts int             `json:"numPayoutAttempts"`
	LastMetaUpdate    time.Time       `json:"lastMatchMetaUpdate"`
	LastBetUpdate     time.Time       `json:"lastMatchBetUpdate"`
}
