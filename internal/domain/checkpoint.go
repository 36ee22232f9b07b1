package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stream names a wager event stream with its own watermark.
type Stream string

const (
	StreamWagerPlaced    Stream = "lastBetPlacedBlock"
	StreamWagerCancelled Stream = "lastBetCancelledBlock"
	StreamWagerClaimed   Stream = "lastBetClaimedBlock"
)

// Streams lists every wager stream.
var Streams = []Stream{StreamWagerPlaced, StreamWagerCancelled, StreamWagerClaimed}

// BlockKey is the key holding the stream's watermark block.
func (s Stream) BlockKey() string { return string(s) }

// IndexKey is the key holding the log index that accompanies the block.
func (s Stream) IndexKey() string {
	return strings.TrimSuffix(string(s), "Block") + "LogIndex"
}

// Kind returns the event kind that advances the stream.
func (s Stream) Kind() EventKind {
	switch s {
	case StreamWagerPlaced:
		return EventWagerPlaced
	case StreamWagerCancelled:
		return EventWagerCancelled
	case StreamWagerClaimed:
		return EventWagerClaimed
	default:
		return EventUnknown
	}
}

// Global counter keys.
const (
	KeyTotalBet = "contract:totalBet"
	KeyTotalWon = "contract:totalWon"
	KeyNumBets  = "contract:numBets"
)

// Per-match field names under "match:{id}:".
const (
	MatchFieldStatus            = "status"
	MatchFieldScore             = "score"
	MatchFieldNumBets           = "totalNumBets"
	MatchFieldTotalHome         = "totalTeamA"
	MatchFieldTotalAway         = "totalTeamB"
	MatchFieldTotalDraw         = "totalDraw"
	MatchFieldNumPayoutAttempts = "numPayoutAttempts"
	MatchFieldLastMetaUpdate    = "lastMatchMetaUpdate"
	MatchFieldLastBetUpdate     = "lastMatchBetUpdate"
	MatchFieldBetIDs            = "betIds"
)

// MatchKey returns the cache key of a per-match field.
func MatchKey(matchID uint64, field string) string {
	return fmt.Sprintf("match:%d:%s", matchID, field)
}

// UserTotalBetKey returns the cache key of a bettor's running total.
func UserTotalBetKey(addr string) string {
	return "user:" + strings.ToLower(addr) + ":totalBet"
}

// UserBetIDsKey returns the cache key of a bettor's wager set.
func UserBetIDsKey(addr string) string {
	return "user:" + strings.ToLower(addr) + ":betIds"
}

// Counters is the global aggregate state.
type Counters struct {
	NumBets  int64
	TotalBet decimal.Decimal
	TotalWon decimal.Decimal
}

// Watermarks is the stored position of every wager stream.
type Watermarks map[Stream]Position

// UserTotals is a bettor's aggregate state.
type UserTotals struct {
	Address  string
	TotalBet decimal.Decimal
	WagerIDs []string
}

// Initial match cache values.
const (
	InitialMatchStatus = FixtureTimed
	InitialMatchScore  = "0-0"
)

// FormatTimestamp renders cache timestamps as unix milliseconds.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
