package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

var epoch = time.Date(2018, 6, 14, 15, 0, 0, 0, time.UTC)

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	c    *fakeClock
	id   int
	when time.Time
	f    func()
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, timers: make(map[int]*fakeTimer)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, id: c.seq, when: c.now.Add(d), f: f}
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	_, ok := t.c.timers[t.id]
	delete(t.c.timers, t.id)
	return ok
}

// Advance moves the clock forward by d, running every timer that falls due
// in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		c.now = next.when
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeReader struct {
	mu    sync.Mutex
	calls int
	match func(call int) (domain.Match, error)
}

func (r *fakeReader) HeadBlock(context.Context) (uint64, error)  { return 0, nil }
func (r *fakeReader) NumMatches(context.Context) (uint64, error) { return 1, nil }
func (r *fakeReader) PastEvents(context.Context, domain.EventKind, uint64, uint64) ([]domain.Event, error) {
	return nil, nil
}

func (r *fakeReader) Match(_ context.Context, _ uint64) (domain.Match, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()
	return r.match(n)
}

func (r *fakeReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type memRecords struct {
	mu    sync.Mutex
	saved []domain.Match
}

func (s *memRecords) Save(_ context.Context, b *domain.WriteBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, b.Matches...)
	b.Reset()
	return nil
}

type fakeFeed struct {
	mu        sync.Mutex
	fixtures  map[int64]domain.Fixture
	requested []int64
}

func (f *fakeFeed) Fixture(_ context.Context, id int64) (domain.Fixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	fx, ok := f.fixtures[id]
	if !ok {
		return domain.Fixture{}, domain.ErrNotFound
	}
	return fx, nil
}

type memCache struct {
	mu    sync.Mutex
	snaps map[uint64]domain.MatchSnapshot
}

func (c *memCache) Seed(context.Context, domain.Match, bool, time.Time) error { return nil }
func (c *memCache) TouchMeta(context.Context, domain.Match, time.Time) error  { return nil }

func (c *memCache) WriteSnapshot(_ context.Context, s domain.MatchSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[s.MatchID] = s
	return nil
}

func (c *memCache) Snapshot(_ context.Context, id uint64) (domain.MatchSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if !ok {
		return domain.MatchSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

type recPublisher struct {
	mu   sync.Mutex
	sent []domain.MatchSnapshot
}

func (p *recPublisher) PublishSnapshot(_ context.Context, s domain.MatchSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, s)
	return nil
}

type testEnv struct {
	clock  *fakeClock
	reader *fakeReader
	recs   *memRecords
	feed   *fakeFeed
	cache  *memCache
	pub    *recPublisher
	s      *Scheduler
}

func intp(n int) *int { return &n }

func newTestEnv(t *testing.T, m domain.Match) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: newFakeClock(epoch),
		reader: &fakeReader{match: func(int) (domain.Match, error) {
			return m, nil
		}},
		recs: &memRecords{},
		feed: &fakeFeed{fixtures: map[int64]domain.Fixture{
			m.FixtureID: {ID: m.FixtureID, Status: domain.FixtureInPlay, HomeGoals: intp(2), AwayGoals: intp(1)},
		}},
		cache: &memCache{snaps: make(map[uint64]domain.MatchSnapshot)},
		pub:   &recPublisher{},
	}
	cfg := Config{
		LeadWindow:     10 * time.Minute,
		TerminalWindow: 4 * time.Hour,
		Interval:       5 * time.Minute,
	}
	deps := Deps{
		Reader:    env.reader,
		Records:   env.recs,
		Feed:      env.feed,
		Cache:     env.cache,
		Publisher: env.pub,
	}
	env.s = New(cfg, deps, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(env.clock))
	t.Cleanup(env.s.Stop)
	return env
}

func testMatch(start time.Time) domain.Match {
	return domain.Match{
		ID:        3,
		FixtureID: 165069,
		HomeTeam:  0,
		AwayTeam:  1,
		StartTime: start,
		TotalHome: decimal.RequireFromString("2.5"),
		NumBets:   1,
	}
}

func TestAutoUpdateStopsOnceTerminal(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)
	env.reader.match = func(call int) (domain.Match, error) {
		out := m
		if call >= 3 {
			out.Winner = domain.OutcomeHome
		}
		return out, nil
	}

	env.s.AutoUpdate(m)
	// First run is due immediately since kickoff is inside the lead window.
	env.clock.Advance(0)
	if got := env.reader.Calls(); got != 1 {
		t.Fatalf("runs after arming: got %d, want 1", got)
	}
	env.clock.Advance(10 * time.Minute)
	if got := env.reader.Calls(); got != 3 {
		t.Fatalf("runs after two intervals: got %d, want 3", got)
	}

	env.clock.Advance(time.Hour)
	if got := env.reader.Calls(); got != 3 {
		t.Errorf("runs after terminal: got %d, want 3", got)
	}
	if _, auto := env.s.Counts(); auto != 0 {
		t.Errorf("active auto-updaters: got %d, want 0", auto)
	}
	if n := env.clock.Len(); n != 0 {
		t.Errorf("armed timers: got %d, want 0", n)
	}
}

func TestAutoUpdateStopsWhenFeedFailsForFinishedMatch(t *testing.T) {
	m := testMatch(epoch)
	m.Winner = domain.OutcomeHome
	env := newTestEnv(t, m)
	delete(env.feed.fixtures, m.FixtureID)

	env.s.AutoUpdate(m)
	env.clock.Advance(30 * time.Minute)

	if got := env.reader.Calls(); got != 1 {
		t.Errorf("chain reads: got %d, want 1", got)
	}
	if _, auto := env.s.Counts(); auto != 0 {
		t.Errorf("active auto-updaters: got %d, want 0", auto)
	}
}

func TestAutoUpdateStopsAfterTerminalWindow(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)

	env.s.AutoUpdate(m)
	env.clock.Advance(24 * time.Hour)

	// Runs at 0, 5m, ..., 240m; the run at 240m is the last.
	if got := env.reader.Calls(); got != 49 {
		t.Errorf("runs: got %d, want 49", got)
	}
	if _, auto := env.s.Counts(); auto != 0 {
		t.Errorf("active auto-updaters: got %d, want 0", auto)
	}
}

func TestAutoUpdateFirstDelay(t *testing.T) {
	m := testMatch(epoch.Add(time.Hour))
	env := newTestEnv(t, m)

	env.s.AutoUpdate(m)
	env.s.AutoUpdate(m)
	env.clock.Advance(49 * time.Minute)
	if got := env.reader.Calls(); got != 0 {
		t.Fatalf("runs before lead window: got %d, want 0", got)
	}
	env.clock.Advance(time.Minute)
	if got := env.reader.Calls(); got != 1 {
		t.Errorf("runs at lead window: got %d, want 1", got)
	}
}

func TestScheduleCoalesces(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)

	for i := 0; i < 3; i++ {
		env.s.Schedule(m.ID, 3*time.Second)
	}
	if pending, _ := env.s.Counts(); pending != 1 {
		t.Fatalf("pending: got %d, want 1", pending)
	}
	env.clock.Advance(3 * time.Second)
	if got := env.reader.Calls(); got != 1 {
		t.Fatalf("runs: got %d, want 1", got)
	}
	if pending, _ := env.s.Counts(); pending != 0 {
		t.Fatalf("pending after run: got %d, want 0", pending)
	}

	env.s.Schedule(m.ID, 3*time.Second)
	env.clock.Advance(3 * time.Second)
	if got := env.reader.Calls(); got != 2 {
		t.Errorf("runs after reschedule: got %d, want 2", got)
	}
}

func TestReconcileWritesMergedSnapshot(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)

	got, err := env.s.Reconcile(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("match id: got %d, want %d", got.ID, m.ID)
	}
	if len(env.recs.saved) != 1 {
		t.Errorf("persisted matches: got %d, want 1", len(env.recs.saved))
	}

	snap, err := env.cache.Snapshot(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != domain.FixtureInPlay || snap.Score != "2-1" {
		t.Errorf("snapshot: got %s %s, want IN_PLAY 2-1", snap.Status, snap.Score)
	}
	if !snap.TotalHome.Equal(decimal.RequireFromString("2.5")) || snap.NumBets != 1 {
		t.Errorf("aggregates: got %s/%d", snap.TotalHome, snap.NumBets)
	}
	if !snap.LastMetaUpdate.Equal(epoch) {
		t.Errorf("meta update: got %s, want %s", snap.LastMetaUpdate, epoch)
	}
	if len(env.pub.sent) != 1 {
		t.Errorf("published: got %d, want 1", len(env.pub.sent))
	}
}

func TestReconcileInvertedAndSecondary(t *testing.T) {
	m := testMatch(epoch)
	m.Inverted = true
	m.FixtureID = 1
	m.SecondaryFixtureID = 165069
	env := newTestEnv(t, m)
	env.feed.fixtures[165069] = env.feed.fixtures[1]
	delete(env.feed.fixtures, 1)

	if _, err := env.s.Reconcile(context.Background(), m.ID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	snap, _ := env.cache.Snapshot(context.Background(), m.ID)
	if snap.Score != "1-2" {
		t.Errorf("score: got %s, want 1-2", snap.Score)
	}
	if want := []int64{1, 165069}; len(env.feed.requested) != 2 || env.feed.requested[0] != want[0] || env.feed.requested[1] != want[1] {
		t.Errorf("feed requests: got %v, want %v", env.feed.requested, want)
	}
}

func TestReconcileAbortsOnFailure(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)
	errChain := errors.New("node down")
	env.reader.match = func(int) (domain.Match, error) { return domain.Match{}, errChain }

	if _, err := env.s.Reconcile(context.Background(), m.ID); !errors.Is(err, errChain) {
		t.Fatalf("chain failure: got %v, want %v", err, errChain)
	}

	env.reader.match = func(int) (domain.Match, error) { return m, nil }
	delete(env.feed.fixtures, m.FixtureID)
	if _, err := env.s.Reconcile(context.Background(), m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("feed failure: got %v, want ErrNotFound", err)
	}
	if _, err := env.cache.Snapshot(context.Background(), m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("snapshot written despite failure: %v", err)
	}
	if len(env.pub.sent) != 0 {
		t.Errorf("published: got %d, want 0", len(env.pub.sent))
	}
}

func TestStopCancelsTimers(t *testing.T) {
	m := testMatch(epoch)
	env := newTestEnv(t, m)

	env.s.Schedule(m.ID, time.Second)
	env.s.AutoUpdate(testMatch(epoch.Add(time.Hour)))
	env.s.Stop()
	env.s.Schedule(m.ID, time.Second)
	env.clock.Advance(2 * time.Hour)

	if got := env.reader.Calls(); got != 0 {
		t.Errorf("runs after stop: got %d, want 0", got)
	}
	pending, auto := env.s.Counts()
	if pending != 0 || auto != 0 {
		t.Errorf("counts after stop: got %d/%d, want 0/0", pending, auto)
	}
}

func TestMergeDefaults(t *testing.T) {
	m := testMatch(epoch)
	snap := Merge(m, domain.Fixture{HomeGoals: intp(1)}, epoch)
	if snap.Status != domain.InitialMatchStatus || snap.Score != "1-0" {
		t.Errorf("merge: got %s %s, want TIMED 1-0", snap.Status, snap.Score)
	}
}
