// Package reconcile polls match state from the chain and the fixture feed
// and writes merged snapshots to the cache.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/alanyoungcy/wagerwatch/internal/keylock"
)

// Publisher fans reconciled snapshots out to live readers.
type Publisher interface {
	PublishSnapshot(ctx context.Context, s domain.MatchSnapshot) error
}

// Config holds the polling windows.
type Config struct {
	// LeadWindow is how long before kickoff auto-updates start.
	LeadWindow time.Duration
	// TerminalWindow is how long after kickoff auto-updates keep running.
	TerminalWindow time.Duration
	Interval       time.Duration
	// RunTimeout bounds a single reconciliation.
	RunTimeout time.Duration
}

// Deps are the scheduler's collaborators. Publisher may be nil.
type Deps struct {
	Reader    domain.ChainReader
	Records   domain.RecordStore
	Feed      domain.FixtureFeed
	Cache     domain.MatchCache
	Publisher Publisher
	Locks     *keylock.Mutex[uint64]
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// Scheduler runs coalesced one-shot reconciliations and one auto-updater per
// match.
type Scheduler struct {
	cfg    Config
	deps   Deps
	clock  Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	pending map[uint64]Timer
	auto    map[uint64]Timer
	running sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New[uint64]()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		deps:    deps,
		clock:   systemClock{},
		logger:  logger.With(slog.String("component", "reconciler")),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]Timer),
		auto:    make(map[uint64]Timer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule reconciles matchID after delay. It is a no-op while a run for the
// id is already pending; the id is released when that run completes.
func (s *Scheduler) Schedule(matchID uint64, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.pending[matchID]; ok {
		return
	}
	s.pending[matchID] = s.clock.AfterFunc(delay, func() { s.fire(matchID) })
}

func (s *Scheduler) fire(matchID uint64) {
	if !s.begin() {
		return
	}
	defer s.running.Done()

	_, _ = s.Reconcile(s.ctx, matchID)

	s.mu.Lock()
	delete(s.pending, matchID)
	s.mu.Unlock()
}

// AutoUpdate polls m from LeadWindow before kickoff until it is terminal or
// TerminalWindow after kickoff has passed. A second call for the same match
// is ignored while its updater is active.
func (s *Scheduler) AutoUpdate(m domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.auto[m.ID]; ok {
		return
	}
	delay := m.StartTime.Add(-s.cfg.LeadWindow).Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	start := m.StartTime
	s.auto[m.ID] = s.clock.AfterFunc(delay, func() { s.tick(m.ID, start) })
	s.logger.Debug("auto-update armed", slog.Uint64("match_id", m.ID), slog.Duration("first_in", delay))
}

func (s *Scheduler) tick(matchID uint64, start time.Time) {
	if !s.begin() {
		return
	}
	defer s.running.Done()

	m, read, _ := s.reconcile(s.ctx, matchID)
	if read {
		start = m.StartTime
	}
	terminal := read && m.Terminal()
	expired := !s.clock.Now().Before(start.Add(s.cfg.TerminalWindow))

	s.mu.Lock()
	defer s.mu.Unlock()
	if terminal || expired || s.stopped {
		delete(s.auto, matchID)
		s.logger.Info("auto-update finished",
			slog.Uint64("match_id", matchID),
			slog.Bool("terminal", terminal),
			slog.Bool("expired", expired),
		)
		return
	}
	s.auto[matchID] = s.clock.AfterFunc(s.cfg.Interval, func() { s.tick(matchID, start) })
}

// begin registers a run unless the scheduler is stopped.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.running.Add(1)
	return true
}

// Reconcile reads the match from the chain, persists it, merges in the
// fixture feed and writes the snapshot. A failed read aborts the run; it is
// not retried here.
func (s *Scheduler) Reconcile(ctx context.Context, matchID uint64) (domain.Match, error) {
	m, _, err := s.reconcile(ctx, matchID)
	return m, err
}

// reconcile reports read=true once the chain read succeeded, even when a
// later step fails, so callers can still judge the match state.
func (s *Scheduler) reconcile(ctx context.Context, matchID uint64) (m domain.Match, read bool, err error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	logger := s.logger.With(slog.Uint64("match_id", matchID))

	m, err = s.deps.Reader.Match(ctx, matchID)
	if err != nil {
		logger.Error("reconcile: read match", slog.String("error", err.Error()))
		return domain.Match{}, false, fmt.Errorf("reconcile: match %d: %w", matchID, err)
	}
	now := s.clock.Now()
	m.UpdatedAt = now

	batch := &domain.WriteBatch{}
	batch.AddMatch(m)
	if err := s.deps.Records.Save(ctx, batch); err != nil {
		logger.Error("reconcile: save match", slog.String("error", err.Error()))
		return m, true, fmt.Errorf("reconcile: save match %d: %w", matchID, err)
	}

	f, err := s.fixture(ctx, m)
	if err != nil {
		logger.Warn("reconcile: fixture feed",
			slog.Int64("fixture_id", m.FixtureID),
			slog.String("error", err.Error()),
		)
		return m, true, fmt.Errorf("reconcile: fixture for match %d: %w", matchID, err)
	}

	snap := Merge(m, f, now)
	unlock := s.deps.Locks.Lock(matchID)
	err = s.deps.Cache.WriteSnapshot(ctx, snap)
	unlock()
	if err != nil {
		logger.Error("reconcile: write snapshot", slog.String("error", err.Error()))
		return m, true, fmt.Errorf("reconcile: write snapshot %d: %w", matchID, err)
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishSnapshot(ctx, snap); err != nil {
			logger.Warn("reconcile: publish snapshot", slog.String("error", err.Error()))
		}
	}
	logger.Debug("match reconciled",
		slog.String("status", string(snap.Status)),
		slog.String("score", snap.Score),
	)
	return m, true, nil
}

// fixture fetches the primary fixture, falling back to the secondary id when
// the feed does not know the primary one.
func (s *Scheduler) fixture(ctx context.Context, m domain.Match) (domain.Fixture, error) {
	f, err := s.deps.Feed.Fixture(ctx, m.FixtureID)
	if errors.Is(err, domain.ErrNotFound) && m.SecondaryFixtureID != 0 {
		f, err = s.deps.Feed.Fixture(ctx, m.SecondaryFixtureID)
	}
	return f, err
}

// Counts returns the number of pending one-shot runs and active
// auto-updaters.
func (s *Scheduler) Counts() (pending, auto int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.auto)
}

// Stop cancels pending timers, refuses new ones and waits for in-flight
// runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	for id, t := range s.auto {
		t.Stop()
		delete(s.auto, id)
	}
	s.mu.Unlock()

	s.running.Wait()
	s.cancel()
	s.logger.Info("reconciler stopped")
}
