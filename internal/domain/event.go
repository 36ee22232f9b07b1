package domain

import "fmt"

// EventKind is the closed set of contract events the observer handles.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventMatchCreated
	EventMatchUpdated
	EventMatchCancelled
	EventMatchOver
	EventMatchPayoutFailed
	EventWagerPlaced
	EventWagerCancelled
	EventWagerClaimed
)

// EventKinds lists every handled kind in a stable order.
var EventKinds = []EventKind{
	EventMatchCreated,
	EventMatchUpdated,
	EventMatchCancelled,
	EventMatchOver,
	EventMatchPayoutFailed,
	EventWagerPlaced,
	EventWagerCancelled,
	EventWagerClaimed,
}

// abiNames maps kinds to the event names declared in the contract ABI.
var abiNames = map[EventKind]string{
	EventMatchCreated:      "MatchCreated",
	EventMatchUpdated:      "MatchUpdated",
	EventMatchCancelled:    "MatchCancelled",
	EventMatchOver:         "MatchOver",
	EventMatchPayoutFailed: "MatchFailedPayoutRelease",
	EventWagerPlaced:       "BetPlaced",
	EventWagerCancelled:    "BetCancelled",
	EventWagerClaimed:      "BetClaimed",
}

// String returns the contract event name of the kind.
func (k EventKind) String() string {
	if n, ok := abiNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind resolves a contract event name.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range abiNames {
		if n == name {
			return k, true
		}
	}
	return EventUnknown, false
}

// IsMatch reports whether the kind belongs to the match lifecycle.
func (k EventKind) IsMatch() bool {
	return k >= EventMatchCreated && k <= EventMatchPayoutFailed
}

// Stream returns the checkpoint stream of a wager kind.
func (k EventKind) Stream() (Stream, bool) {
	switch k {
	case EventWagerPlaced:
		return StreamWagerPlaced, true
	case EventWagerCancelled:
		return StreamWagerCancelled, true
	case EventWagerClaimed:
		return StreamWagerClaimed, true
	default:
		return "", false
	}
}

// Position orders events within the chain.
type Position struct {
	Block uint64
	Index uint
}

// After reports whether p is strictly later than o.
func (p Position) After(o Position) bool {
	if p.Block != o.Block {
		return p.Block > o.Block
	}
	return p.Index > o.Index
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.Block, p.Index)
}

// Event is a decoded contract log. Wager is set for EventWagerPlaced only.
type Event struct {
	Kind     EventKind
	MatchID  uint64
	WagerID  uint64
	Wager    *Wager
	Block    uint64
	LogIndex uint
	TxHash   string
}

// Position returns the event's chain position.
func (e Event) Position() Position {
	return Position{Block: e.Block, Index: e.LogIndex}
}

// Phase is the sync engine's lifecycle state.
type Phase string

const (
	PhaseBackfilling Phase = "backfilling"
	PhaseLive        Phase = "live"
)
