// Package ingest projects contract events into the durable store and the
// checkpoint cache. It owns the sync engine that gates live events behind
// historical catch-up and the cold-start pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/alanyoungcy/wagerwatch/internal/keylock"
)

// Scheduler arms match reconciliation.
type Scheduler interface {
	Schedule(matchID uint64, delay time.Duration)
	AutoUpdate(m domain.Match)
}

type nopScheduler struct{}

func (nopScheduler) Schedule(uint64, time.Duration) {}
func (nopScheduler) AutoUpdate(domain.Match)        {}

// Deps are the collaborators shared by the handlers, the engine and the
// seeder.
type Deps struct {
	Reader      domain.ChainReader
	Records     domain.RecordStore
	Checkpoints domain.CheckpointStore
	Matches     domain.MatchCache
	Scheduler   Scheduler
	// Locks serializes cache writes per match id. It is shared with the
	// reconciler.
	Locks *keylock.Mutex[uint64]
}

// HandlerConfig sets the reconciliation delays armed by each event kind.
type HandlerConfig struct {
	BetDebounce   time.Duration
	MatchDebounce time.Duration
}

// Handlers applies one decoded event at a time. Every handler is safe to run
// more than once for the same event.
type Handlers struct {
	cfg HandlerConfig
	Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewHandlers creates the event handlers.
func NewHandlers(cfg HandlerConfig, deps Deps, logger *slog.Logger) *Handlers {
	if deps.Scheduler == nil {
		deps.Scheduler = nopScheduler{}
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New[uint64]()
	}
	return &Handlers{
		cfg:    cfg,
		Deps:   deps,
		logger: logger.With(slog.String("component", "handlers")),
		now:    time.Now,
	}
}

// Apply dispatches ev to the handler of its kind. With force the watermark
// guard is bypassed.
func (h *Handlers) Apply(ctx context.Context, ev domain.Event, force bool) error {
	switch ev.Kind {
	case domain.EventMatchCreated:
		return h.onMatchCreated(ctx, ev)
	case domain.EventMatchUpdated, domain.EventMatchCancelled, domain.EventMatchOver, domain.EventMatchPayoutFailed:
		return h.onMatchChanged(ctx, ev)
	case domain.EventWagerPlaced, domain.EventWagerCancelled, domain.EventWagerClaimed:
		return h.applyWager(ctx, ev, force)
	default:
		return fmt.Errorf("ingest: apply %s: %w", ev.Kind, domain.ErrUnknownEvent)
	}
}

func (h *Handlers) onMatchCreated(ctx context.Context, ev domain.Event) error {
	m, err := h.refreshMatch(ctx, ev)
	if err != nil {
		return err
	}

	now := h.now()
	unlock := h.Locks.Lock(m.ID)
	err = h.Matches.Seed(ctx, zeroAggregates(m), false, now)
	if err == nil {
		err = h.Matches.TouchMeta(ctx, m, now)
	}
	unlock()
	if err != nil {
		return fmt.Errorf("ingest: seed match %d cache: %w", m.ID, err)
	}

	h.Scheduler.AutoUpdate(m)
	h.logger.Info("match created",
		slog.Uint64("match_id", m.ID),
		slog.String("name", m.Name),
		slog.Uint64("block", ev.Block),
	)
	return nil
}

func (h *Handlers) onMatchChanged(ctx context.Context, ev domain.Event) error {
	m, err := h.refreshMatch(ctx, ev)
	if err != nil {
		return err
	}

	unlock := h.Locks.Lock(m.ID)
	err = h.Matches.TouchMeta(ctx, m, h.now())
	unlock()
	if err != nil {
		return fmt.Errorf("ingest: touch match %d cache: %w", m.ID, err)
	}

	h.Scheduler.Schedule(m.ID, h.cfg.MatchDebounce)
	h.logger.Info("match changed",
		slog.String("kind", ev.Kind.String()),
		slog.Uint64("match_id", m.ID),
		slog.Uint64("block", ev.Block),
	)
	return nil
}

// refreshMatch reads the full match from the chain, since match events only
// carry the id, and upserts it.
func (h *Handlers) refreshMatch(ctx context.Context, ev domain.Event) (domain.Match, error) {
	m, err := h.Reader.Match(ctx, ev.MatchID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("ingest: %s: read match %d: %w", ev.Kind, ev.MatchID, err)
	}
	m.UpdatedAt = h.now()

	batch := &domain.WriteBatch{}
	batch.AddMatch(m)
	if err := h.Records.Save(ctx, batch); err != nil {
		return domain.Match{}, fmt.Errorf("ingest: %s: save match %d: %w", ev.Kind, ev.MatchID, err)
	}
	return m, nil
}

// applyWager runs the guard, the durable write and the checkpoint commit for
// a single wager event. A failed durable write leaves the checkpoint alone.
func (h *Handlers) applyWager(ctx context.Context, ev domain.Event, force bool) error {
	fresh, err := h.fresh(ctx, ev, force)
	if err != nil || !fresh {
		return err
	}

	batch := &domain.WriteBatch{}
	if err := stage(batch, ev); err != nil {
		return err
	}
	if err := h.Records.Save(ctx, batch); err != nil {
		return fmt.Errorf("ingest: %s: save wager %s: %w", ev.Kind, domain.WagerKey(ev.MatchID, ev.WagerID), err)
	}
	_, err = h.commit(ctx, ev, force)
	return err
}

// fresh is the watermark guard. Events at or before the stored position are
// skipped unless forced.
func (h *Handlers) fresh(ctx context.Context, ev domain.Event, force bool) (bool, error) {
	if force {
		return true, nil
	}
	stream, ok := ev.Kind.Stream()
	if !ok {
		return true, nil
	}
	wm, err := h.Checkpoints.Watermark(ctx, stream)
	if err != nil {
		return false, fmt.Errorf("ingest: %s: read watermark: %w", ev.Kind, err)
	}
	if !ev.Position().After(wm) {
		h.logger.Debug("skipping stale event",
			slog.String("kind", ev.Kind.String()),
			slog.String("position", ev.Position().String()),
			slog.String("watermark", wm.String()),
			slog.String("error", domain.ErrStaleEvent.Error()),
		)
		return false, nil
	}
	return true, nil
}

// stage queues the durable write of a wager event.
func stage(batch *domain.WriteBatch, ev domain.Event) error {
	flag := domain.WagerFlag{MatchID: ev.MatchID, WagerID: ev.WagerID, Block: ev.Block}
	switch ev.Kind {
	case domain.EventWagerPlaced:
		if ev.Wager == nil {
			return fmt.Errorf("ingest: %s at %s: missing wager payload", ev.Kind, ev.Position())
		}
		batch.AddWager(*ev.Wager)
	case domain.EventWagerCancelled:
		batch.AddCancelled(flag)
	case domain.EventWagerClaimed:
		batch.AddClaimed(flag)
	default:
		return fmt.Errorf("ingest: stage %s: %w", ev.Kind, domain.ErrUnknownEvent)
	}
	return nil
}

// commit advances the stream's watermark together with the event's cache
// writes, then arms reconciliation. It reports whether the event was applied.
func (h *Handlers) commit(ctx context.Context, ev domain.Event, force bool) (bool, error) {
	stream, ok := ev.Kind.Stream()
	if !ok {
		return false, fmt.Errorf("ingest: commit %s: %w", ev.Kind, domain.ErrUnknownEvent)
	}

	var (
		applied bool
		err     error
		delay   = h.cfg.MatchDebounce
	)
	unlock := h.Locks.Lock(ev.MatchID)
	if ev.Kind == domain.EventWagerPlaced {
		applied, err = h.Checkpoints.ApplyWagerPlaced(ctx, *ev.Wager, ev.Position(), h.now(), force)
		delay = h.cfg.BetDebounce
	} else {
		applied, err = h.Checkpoints.ApplyWagerFlag(ctx, stream, ev.MatchID, ev.Position(), h.now(), force)
	}
	unlock()
	if err != nil {
		return false, fmt.Errorf("ingest: commit %s %s at %s: %w",
			ev.Kind, domain.WagerKey(ev.MatchID, ev.WagerID), ev.Position(), err)
	}
	if !applied {
		h.logger.Debug("event already applied",
			slog.String("kind", ev.Kind.String()),
			slog.String("position", ev.Position().String()),
		)
		return false, nil
	}

	h.Scheduler.Schedule(ev.MatchID, delay)
	h.logger.Debug("wager event applied",
		slog.String("kind", ev.Kind.String()),
		slog.String("wager", domain.WagerKey(ev.MatchID, ev.WagerID)),
		slog.String("position", ev.Position().String()),
	)
	return true, nil
}

func zeroAggregates(m domain.Match) domain.Match {
	m.TotalHome = decimal.Zero
	m.TotalAway = decimal.Zero
	m.TotalDraw = decimal.Zero
	m.NumBets = 0
	m.NumPayoutAttempts = 0
	return m
}
