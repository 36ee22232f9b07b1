package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// weiExponent is the number of decimals between wei and ether.
const weiExponent = 18

// Wager is a single bet placed against a match outcome.
type Wager struct {
	MatchID uint64
	ID      uint64
	// Bettor is the lower-cased hex address of the wallet.
	Bettor    string
	Amount    decimal.Decimal
	Outcome   int
	Cancelled bool
	Claimed   bool
	Block     uint64
}

// Key returns the "{matchId}:{wagerId}" identifier used in wager sets.
func (w Wager) Key() string {
	return WagerKey(w.MatchID, w.ID)
}

// WagerKey formats a composite wager identifier.
func WagerKey(matchID, wagerID uint64) string {
	return fmt.Sprintf("%d:%d", matchID, wagerID)
}

// WeiToEther converts an on-chain wei amount to an exact ether decimal.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiExponent)
}
