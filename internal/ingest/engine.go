package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// EngineConfig tunes buffering and handler retries.
type EngineConfig struct {
	// BufferCapacity bounds the events held per kind while the gate is
	// closed. Overflowing events are dropped and re-read by a replay pass.
	BufferCapacity int
	LaneCapacity   int
	HandlerRetries int
	RetryBackoff   time.Duration
}

// lane applies the events of one kind in arrival order.
type lane struct {
	kind    domain.EventKind
	ch      chan domain.Event
	busy    sync.WaitGroup
	stalled atomic.Bool
}

// Engine gates live events behind historical catch-up. While the gate is
// closed, events are buffered per kind. When it is open they go straight to
// the kind's lane. The phase moves from Backfilling to Live once and never
// goes back; reconnects close the gate for a catch-up pass instead.
type Engine struct {
	cfg      EngineConfig
	handlers *Handlers
	archiver *Archiver
	logger   *slog.Logger

	// syncMu serializes GoLive, Resync and Replay.
	syncMu  sync.Mutex
	refresh func(ctx context.Context) error

	mu      sync.Mutex
	phase   domain.Phase
	open    bool
	pending map[domain.EventKind][]domain.Event
	// dirty forces a replay pass before the gate opens.
	dirty bool
	lanes map[domain.EventKind]*lane

	resync chan struct{}
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine in the Backfilling phase. archiver may be nil.
func NewEngine(cfg EngineConfig, handlers *Handlers, archiver *Archiver, logger *slog.Logger) *Engine {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 10000
	}
	if cfg.LaneCapacity <= 0 {
		cfg.LaneCapacity = 1024
	}
	e := &Engine{
		cfg:      cfg,
		handlers: handlers,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "sync_engine")),
		phase:    domain.PhaseBackfilling,
		pending:  make(map[domain.EventKind][]domain.Event),
		lanes:    make(map[domain.EventKind]*lane, len(domain.EventKinds)),
		resync:   make(chan struct{}, 1),
		sleep:    sleepCtx,
	}
	for _, k := range domain.EventKinds {
		e.lanes[k] = &lane{kind: k, ch: make(chan domain.Event, cfg.LaneCapacity)}
	}
	return e
}

// SetMatchRefresh sets the match re-enumeration run at the start of every
// resync.
func (e *Engine) SetMatchRefresh(fn func(ctx context.Context) error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	e.refresh = fn
}

// Phase returns the current sync phase.
func (e *Engine) Phase() domain.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Status is a point-in-time view of the engine.
type Status struct {
	Phase   domain.Phase   `json:"phase"`
	Open    bool           `json:"open"`
	Pending map[string]int `json:"pending"`
	Stalled []string       `json:"stalled,omitempty"`
}

// Status reports the phase, buffered event counts and stalled lanes.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{Phase: e.phase, Open: e.open, Pending: make(map[string]int)}
	for k, evs := range e.pending {
		if len(evs) > 0 {
			st.Pending[k.String()] = len(evs)
		}
	}
	for k, l := range e.lanes {
		if l.stalled.Load() {
			st.Stalled = append(st.Stalled, k.String())
		}
	}
	sort.Strings(st.Stalled)
	return st
}

// Deliver accepts a live event. It matches chain.EventHandler.
func (e *Engine) Deliver(ctx context.Context, ev domain.Event) {
	e.mu.Lock()
	if !e.open {
		buf := e.pending[ev.Kind]
		if len(buf) >= e.cfg.BufferCapacity {
			e.dirty = true
			e.mu.Unlock()
			e.logger.Warn("pending buffer full, dropping event for replay",
				slog.String("kind", ev.Kind.String()),
				slog.String("position", ev.Position().String()),
			)
			return
		}
		e.pending[ev.Kind] = append(buf, ev)
		e.mu.Unlock()
		return
	}

	l, ok := e.lanes[ev.Kind]
	if !ok || l.stalled.Load() {
		e.mu.Unlock()
		return
	}
	l.busy.Add(1)
	e.mu.Unlock()

	select {
	case l.ch <- ev:
	case <-ctx.Done():
		l.busy.Done()
	}
}

// RequestResync asks Run to perform a resync. Requests coalesce.
func (e *Engine) RequestResync() {
	select {
	case e.resync <- struct{}{}:
	default:
	}
}

// Run starts the lanes and serves resync requests until ctx is done. Lanes
// finish their in-flight event before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, l := range e.lanes {
		wg.Add(1)
		go func(l *lane) {
			defer wg.Done()
			e.runLane(ctx, l)
		}(l)
	}
	defer wg.Wait()

	e.logger.Info("sync engine started", slog.Int("lanes", len(e.lanes)))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping")
			return nil
		case <-e.resync:
			if err := e.Resync(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("resync failed, retrying", slog.String("error", err.Error()))
				if e.sleep(ctx, e.cfg.RetryBackoff) == nil {
					e.RequestResync()
				}
			}
		}
	}
}

func (e *Engine) runLane(ctx context.Context, l *lane) {
	for {
		select {
		case <-ctx.Done():
			// Unapplied events are re-read from the watermark on the next start.
			for {
				select {
				case <-l.ch:
					l.busy.Done()
				default:
					return
				}
			}
		case ev := <-l.ch:
			e.laneApply(ctx, l, ev)
			l.busy.Done()
		}
	}
}

func (e *Engine) laneApply(ctx context.Context, l *lane, ev domain.Event) {
	if l.stalled.Load() {
		return
	}
	err := e.applyWithRetry(ctx, ev)
	if err == nil || ctx.Err() != nil {
		return
	}
	if _, ok := ev.Kind.Stream(); !ok {
		e.logger.Error("dropping match event after retries",
			slog.String("kind", ev.Kind.String()),
			slog.Uint64("match_id", ev.MatchID),
			slog.Uint64("block", ev.Block),
			slog.String("error", err.Error()),
		)
		return
	}
	l.stalled.Store(true)
	e.logger.Error("lane stalled, requesting resync",
		slog.String("kind", ev.Kind.String()),
		slog.String("wager", domain.WagerKey(ev.MatchID, ev.WagerID)),
		slog.String("position", ev.Position().String()),
		slog.String("error", err.Error()),
	)
	e.RequestResync()
}

// applyWithRetry applies ev with linear backoff between attempts. In-flight
// writes are not cancelled by ctx; only the waits between retries are.
func (e *Engine) applyWithRetry(ctx context.Context, ev domain.Event) error {
	hctx := context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		err := e.handlers.Apply(hctx, ev, false)
		if err == nil {
			return nil
		}
		if attempt >= e.cfg.HandlerRetries || ctx.Err() != nil {
			return err
		}
		e.logger.Warn("event handler failed, retrying",
			slog.String("kind", ev.Kind.String()),
			slog.String("position", ev.Position().String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		if e.sleep(ctx, time.Duration(attempt+1)*e.cfg.RetryBackoff) != nil {
			return err
		}
	}
}

// GoLive flushes the events buffered during backfill and opens the gate.
// The flush completes before the first live event is accepted.
func (e *Engine) GoLive(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	if err := e.drain(ctx, false); err != nil {
		return fmt.Errorf("ingest: go live: %w", err)
	}
	e.logger.Info("sync engine live")
	return nil
}

// Resync closes the gate, waits for the lanes to go idle, catches up from
// the stored watermarks and reopens the gate. During backfill it only marks
// the engine so GoLive replays again.
func (e *Engine) Resync(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.mu.Lock()
	if e.phase != domain.PhaseLive {
		e.dirty = true
		e.mu.Unlock()
		e.logger.Info("resync during backfill, catch-up deferred to go live")
		return nil
	}
	e.open = false
	e.mu.Unlock()

	start := time.Now()
	e.logger.Info("resync started")
	for _, l := range e.lanes {
		l.busy.Wait()
		l.stalled.Store(false)
	}

	if e.refresh != nil {
		if err := e.refresh(ctx); err != nil {
			e.markDirty()
			return fmt.Errorf("ingest: resync: refresh matches: %w", err)
		}
	}
	if err := e.drain(ctx, true); err != nil {
		return fmt.Errorf("ingest: resync: %w", err)
	}
	e.logger.Info("resync complete", slog.Duration("took", time.Since(start)))
	return nil
}

// Replay re-reads the wager streams up to the chain head. Without force it
// applies only events after each stream's watermark; with force it re-applies
// every event from block from, bypassing the watermark guard.
func (e *Engine) Replay(ctx context.Context, from uint64, force bool) (ReplayResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.replay(ctx, from, force)
}

// drain runs replay passes and flushes until the buffer is empty and no
// replay is owed, then opens the gate. A dirty engine re-enumerates matches
// and replays before flushing so gaps are filled ahead of the buffered
// events.
func (e *Engine) drain(ctx context.Context, replay bool) error {
	for {
		e.mu.Lock()
		dirty := e.dirty
		if dirty {
			replay = true
			e.dirty = false
		}
		e.mu.Unlock()

		// Overflow may have dropped match events too; re-enumerate so none
		// is left unsaved.
		if dirty && e.refresh != nil {
			if err := e.refresh(ctx); err != nil {
				e.markDirty()
				return fmt.Errorf("refresh matches: %w", err)
			}
		}
		if replay {
			if _, err := e.replay(ctx, 0, false); err != nil {
				e.markDirty()
				return err
			}
			replay = false
		}
		if err := e.flush(ctx); err != nil {
			e.markDirty()
			return err
		}

		e.mu.Lock()
		if !e.dirty && pendingLen(e.pending) == 0 {
			e.open = true
			e.phase = domain.PhaseLive
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()
	}
}

// flush applies the buffered events, kinds in parallel and each kind in
// arrival order. A wager kind stops at its first failure; the rest is
// re-read by the next replay.
func (e *Engine) flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = make(map[domain.EventKind][]domain.Event)
	e.mu.Unlock()

	if pendingLen(batch) == 0 {
		return nil
	}
	e.logger.Info("flushing buffered events", slog.Int("events", pendingLen(batch)))

	g, gctx := errgroup.WithContext(ctx)
	for kind, evs := range batch {
		g.Go(func() error {
			for i, ev := range evs {
				err := e.applyWithRetry(gctx, ev)
				if err == nil {
					continue
				}
				if _, ok := kind.Stream(); ok {
					return fmt.Errorf("flush %s at %s (%d left): %w", kind, ev.Position(), len(evs)-i, err)
				}
				e.logger.Error("dropping buffered match event",
					slog.Uint64("match_id", ev.MatchID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) markDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

func pendingLen(p map[domain.EventKind][]domain.Event) int {
	n := 0
	for _, evs := range p {
		n += len(evs)
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
