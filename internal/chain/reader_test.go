package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

type fakeBackend struct {
	c       *Contract
	outputs map[string][]interface{}
	logs    []types.Log
	head    uint64
	queries []ethereum.FilterQuery
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range b.c.abi.Methods {
		if bytes.Equal(msg.Data[:4], m.ID) {
			out, ok := b.outputs[name]
			if !ok {
				return nil, fmt.Errorf("no output for %s", name)
			}
			return m.Outputs.Pack(out...)
		}
	}
	return nil, fmt.Errorf("unknown selector %x", msg.Data[:4])
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.queries = append(b.queries, q)
	var out []types.Log
	for _, lg := range b.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() && lg.Topics[0] == q.Topics[0][0] {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return b.head, nil }

func TestReaderMatch(t *testing.T) {
	c := testContract(t)
	start := time.Date(2018, 6, 14, 15, 0, 0, 0, time.UTC)
	b := &fakeBackend{c: c, outputs: map[string][]interface{}{
		"getMatch": {
			"Russia vs Saudi Arabia", "165069", "", true,
			uint8(0), uint8(1), uint8(0), big.NewInt(start.Unix()), false, true,
		},
		"getMatchBettingDetails": {
			big.NewInt(start.Unix() - 600), ether("1.5"), ether("0.25"), big.NewInt(0), big.NewInt(3), uint8(2),
		},
		"getNumMatches": {big.NewInt(48)},
		"TEAMS":         {"Russia"},
	}}
	r := NewReader(b, c, 100, time.Second)
	ctx := context.Background()

	m, err := r.Match(ctx, 3)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.ID != 3 || m.Name != "Russia vs Saudi Arabia" || m.FixtureID != 165069 || m.SecondaryFixtureID != 0 || !m.Inverted {
		t.Errorf("match info: got %+v", m)
	}
	if m.HomeTeam != 0 || m.AwayTeam != 1 || m.Winner != 0 || !m.StartTime.Equal(start) || !m.Locked || m.Cancelled {
		t.Errorf("match teams/time: got %+v", m)
	}
	if m.TotalHome.String() != "1.5" || m.TotalAway.String() != "0.25" || !m.TotalDraw.IsZero() || m.NumBets != 3 || m.NumPayoutAttempts != 2 {
		t.Errorf("match totals: got %+v", m)
	}

	n, err := r.NumMatches(ctx)
	if err != nil || n != 48 {
		t.Errorf("num matches: got %d %v", n, err)
	}
	name, err := r.Team(ctx, 0)
	if err != nil || name != "Russia" {
		t.Errorf("team: got %q %v", name, err)
	}
	if _, err := r.Match(ctx, 300); err == nil {
		t.Errorf("match 300: want range error")
	}
}

func TestReaderPastEventsChunks(t *testing.T) {
	c := testContract(t)
	b := &fakeBackend{c: c, head: 400}
	for i, blk := range []uint64{150, 101, 260, 399} {
		b.logs = append(b.logs, packLog(t, c, domain.EventWagerCancelled, blk, uint(i), uint8(1), big.NewInt(int64(i))))
	}
	b.logs = append(b.logs, packLog(t, c, domain.EventWagerClaimed, 120, 0, uint8(1), big.NewInt(9)))

	r := NewReader(b, c, 100, 0)
	evs, err := r.PastEvents(context.Background(), domain.EventWagerCancelled, 101, 400)
	if err != nil {
		t.Fatalf("past events: %v", err)
	}
	var blocks []uint64
	for _, ev := range evs {
		blocks = append(blocks, ev.Block)
	}
	if fmt.Sprint(blocks) != "[101 150 260 399]" {
		t.Errorf("blocks: got %v", blocks)
	}
	if len(b.queries) != 3 {
		t.Errorf("queries: got %d, want 3", len(b.queries))
	}
	if got := b.queries[2].ToBlock.Uint64(); got != 400 {
		t.Errorf("last chunk end: got %d", got)
	}

	none, err := r.PastEvents(context.Background(), domain.EventMatchOver, 0, 400)
	if err != nil || len(none) != 0 {
		t.Errorf("unsupported kind: got %v %v", none, err)
	}
}
