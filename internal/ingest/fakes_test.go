package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	rediscache "github.com/alanyoungcy/wagerwatch/internal/cache/redis"
	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain serves matches and event history from memory.
type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	matches map[uint64]domain.Match
	events  []domain.Event
}

func newFakeChain() *fakeChain {
	return &fakeChain{matches: make(map[uint64]domain.Match)}
}

func (c *fakeChain) addEvents(evs ...domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range evs {
		c.events = append(c.events, ev)
		if ev.Block > c.head {
			c.head = ev.Block
		}
	}
}

func (c *fakeChain) HeadBlock(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) NumMatches(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.matches)), nil
}

func (c *fakeChain) Match(_ context.Context, id uint64) (domain.Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.matches[id]
	if !ok {
		return domain.Match{}, fmt.Errorf("match %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (c *fakeChain) PastEvents(_ context.Context, kind domain.EventKind, from, to uint64) ([]domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, ev := range c.events {
		if ev.Kind == kind && ev.Block >= from && ev.Block <= to {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].Position().After(out[i].Position()) })
	return out, nil
}

// memRecords is an in-memory RecordStore. failures makes the next n saves
// fail.
type memRecords struct {
	mu       sync.Mutex
	matches  map[uint64]domain.Match
	wagers   map[string]domain.Wager
	saves    int
	failures int
}

func newMemRecords() *memRecords {
	return &memRecords{matches: make(map[uint64]domain.Match), wagers: make(map[string]domain.Wager)}
}

var errSaveFailed = errors.New("save failed")

func (r *memRecords) Save(_ context.Context, b *domain.WriteBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errSaveFailed
	}
	r.saves++
	for _, m := range b.Matches {
		r.matches[m.ID] = m
	}
	for _, w := range b.Wagers {
		if cur, ok := r.wagers[w.Key()]; ok {
			w.Cancelled = w.Cancelled || cur.Cancelled
			w.Claimed = w.Claimed || cur.Claimed
		}
		r.wagers[w.Key()] = w
	}
	for _, f := range b.Cancelled {
		w := r.wagers[domain.WagerKey(f.MatchID, f.WagerID)]
		w.MatchID, w.ID, w.Cancelled = f.MatchID, f.WagerID, true
		r.wagers[w.Key()] = w
	}
	for _, f := range b.Claimed {
		w := r.wagers[domain.WagerKey(f.MatchID, f.WagerID)]
		w.MatchID, w.ID, w.Claimed = f.MatchID, f.WagerID, true
		r.wagers[w.Key()] = w
	}
	b.Reset()
	return nil
}

func (r *memRecords) setFailures(n int) {
	r.mu.Lock()
	r.failures = n
	r.mu.Unlock()
}

func (r *memRecords) wagerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wagers)
}

func (r *memRecords) wager(key string) (domain.Wager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wagers[key]
	return w, ok
}

type memTeams struct {
	teams []domain.Team
	calls int
}

func (s *memTeams) Count(context.Context) (int64, error) { return int64(len(s.teams)), nil }

func (s *memTeams) ReplaceAll(_ context.Context, teams []domain.Team) error {
	s.calls++
	s.teams = append([]domain.Team(nil), teams...)
	return nil
}

func (s *memTeams) List(context.Context) ([]domain.Team, error) { return s.teams, nil }

type scheduled struct {
	matchID uint64
	delay   time.Duration
}

type recScheduler struct {
	mu        sync.Mutex
	scheduled []scheduled
	auto      []uint64
}

func (s *recScheduler) Schedule(id uint64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduled{id, d})
}

func (s *recScheduler) AutoUpdate(m domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auto = append(s.auto, m.ID)
}

var testNow = time.Date(2018, 6, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	chain   *fakeChain
	records *memRecords
	teams   *memTeams
	sched   *recScheduler
	mr      *miniredis.Miniredis
	cps     *rediscache.CheckpointStore
	mc      *rediscache.MatchCache
	h       *Handlers
	engine  *Engine
	seeder  *Seeder
}

const testStartBlock = 100

func newTestEnv(t *testing.T, cfg EngineConfig) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := rediscache.Wrap(rdb)

	env := &testEnv{
		chain:   newFakeChain(),
		records: newMemRecords(),
		teams:   &memTeams{},
		sched:   &recScheduler{},
		mr:      mr,
		cps:     rediscache.NewCheckpointStore(client),
		mc:      rediscache.NewMatchCache(client),
	}
	env.h = NewHandlers(HandlerConfig{BetDebounce: 3 * time.Second, MatchDebounce: 5 * time.Second}, Deps{
		Reader:      env.chain,
		Records:     env.records,
		Checkpoints: env.cps,
		Matches:     env.mc,
		Scheduler:   env.sched,
	}, discardLogger())
	env.h.now = func() time.Time { return testNow }
	env.engine = NewEngine(cfg, env.h, nil, discardLogger())
	env.engine.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	env.seeder = NewSeeder(env.h, env.teams, testStartBlock, 4, discardLogger())

	if err := env.seeder.SeedCheckpoints(context.Background()); err != nil {
		t.Fatalf("seed checkpoints: %v", err)
	}
	return env
}

func (env *testEnv) counters(t *testing.T) domain.Counters {
	t.Helper()
	c, err := env.cps.Counters(context.Background())
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	return c
}

func (env *testEnv) watermark(t *testing.T, s domain.Stream) uint64 {
	t.Helper()
	p, err := env.cps.Watermark(context.Background(), s)
	if err != nil {
		t.Fatalf("watermark %s: %v", s, err)
	}
	return p.Block
}

func placedEvent(matchID, wagerID, block uint64, index uint, bettor, amount string) domain.Event {
	return domain.Event{
		Kind:     domain.EventWagerPlaced,
		MatchID:  matchID,
		WagerID:  wagerID,
		Block:    block,
		LogIndex: index,
		Wager: &domain.Wager{
			MatchID: matchID,
			ID:      wagerID,
			Bettor:  bettor,
			Amount:  decimal.RequireFromString(amount),
			Outcome: domain.OutcomeHome,
			Block:   block,
		},
	}
}

func flagEvent(kind domain.EventKind, matchID, wagerID, block uint64) domain.Event {
	return domain.Event{Kind: kind, MatchID: matchID, WagerID: wagerID, Block: block}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
