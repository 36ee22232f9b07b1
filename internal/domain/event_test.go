package domain

import (
	"math/big"
	"testing"
)

func TestPositionAfter(t *testing.T) {
	tests := []struct {
		p, o Position
		want bool
	}{
		{Position{101, 0}, Position{100, 9}, true},
		{Position{100, 3}, Position{100, 2}, true},
		{Position{100, 2}, Position{100, 2}, false},
		{Position{100, 1}, Position{100, 2}, false},
		{Position{99, 50}, Position{100, 0}, false},
	}
	for _, test := range tests {
		if got := test.p.After(test.o); got != test.want {
			t.Errorf("%s after %s: got %v, want %v", test.p, test.o, got, test.want)
		}
	}
}

func TestEventKindNames(t *testing.T) {
	for _, k := range EventKinds {
		got, ok := ParseEventKind(k.String())
		if !ok || got != k {
			t.Errorf("parse %q: got %v %v, want %v", k.String(), got, ok, k)
		}
	}
	if _, ok := ParseEventKind("Transfer"); ok {
		t.Errorf("parse Transfer: want unknown")
	}
	if !EventMatchPayoutFailed.IsMatch() || EventWagerPlaced.IsMatch() {
		t.Errorf("IsMatch misclassifies kinds")
	}
}

func TestStreamKeys(t *testing.T) {
	tests := []struct {
		s     Stream
		block string
		index string
		kind  EventKind
	}{
		{StreamWagerPlaced, "lastBetPlacedBlock", "lastBetPlacedLogIndex", EventWagerPlaced},
		{StreamWagerCancelled, "lastBetCancelledBlock", "lastBetCancelledLogIndex", EventWagerCancelled},
		{StreamWagerClaimed, "lastBetClaimedBlock", "lastBetClaimedLogIndex", EventWagerClaimed},
	}
	for _, test := range tests {
		if got := test.s.BlockKey(); got != test.block {
			t.Errorf("block key: got %q, want %q", got, test.block)
		}
		if got := test.s.IndexKey(); got != test.index {
			t.Errorf("index key: got %q, want %q", got, test.index)
		}
		if got := test.s.Kind(); got != test.kind {
			t.Errorf("kind: got %v, want %v", got, test.kind)
		}
		if s, ok := test.kind.Stream(); !ok || s != test.s {
			t.Errorf("stream of %v: got %q", test.kind, s)
		}
	}
}

func TestWeiToEther(t *testing.T) {
	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	if got := WeiToEther(wei).String(); got != "2.5" {
		t.Errorf("2.5 ether: got %s", got)
	}
	if got := WeiToEther(big.NewInt(1)).String(); got != "0.000000000000000001" {
		t.Errorf("1 wei: got %s", got)
	}
	if got := WeiToEther(nil); !got.IsZero() {
		t.Errorf("nil: got %s", got)
	}
}

func TestKeys(t *testing.T) {
	if got := MatchKey(3, MatchFieldBetIDs); got != "match:3:betIds" {
		t.Errorf("match key: got %q", got)
	}
	if got := UserTotalBetKey("0xABC"); got != "user:0xabc:totalBet" {
		t.Errorf("user key: got %q", got)
	}
	if got := WagerKey(3, 7); got != "3:7" {
		t.Errorf("wager key: got %q", got)
	}
}
