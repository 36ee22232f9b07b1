package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Head    uint64
	Applied map[domain.Stream]int
}

// replay reads every wager stream up to the current head. Streams run in
// parallel; events within a stream are saved in one batch and committed in
// chain order.
func (e *Engine) replay(ctx context.Context, from uint64, force bool) (ReplayResult, error) {
	start := time.Now()
	head, err := e.handlers.Reader.HeadBlock(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("ingest: replay: %w", err)
	}

	res := ReplayResult{Head: head, Applied: make(map[domain.Stream]int, len(domain.Streams))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range domain.Streams {
		g.Go(func() error {
			n, err := e.replayStream(gctx, stream, from, head, force)
			mu.Lock()
			res.Applied[stream] = n
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	attrs := []any{
		slog.Uint64("head", head),
		slog.Bool("force", force),
		slog.Duration("took", time.Since(start)),
	}
	for _, s := range domain.Streams {
		attrs = append(attrs, slog.Int(s.Kind().String(), res.Applied[s]))
	}
	e.logger.Info("replay complete", attrs...)
	return res, nil
}

func (e *Engine) replayStream(ctx context.Context, stream domain.Stream, from, head uint64, force bool) (int, error) {
	h := e.handlers
	wm, err := h.Checkpoints.Watermark(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("ingest: replay %s: read watermark: %w", stream, err)
	}
	if !force {
		from = wm.Block
	}
	if from > head {
		return 0, nil
	}

	evs, err := h.Reader.PastEvents(ctx, stream.Kind(), from, head)
	if err != nil {
		return 0, fmt.Errorf("ingest: replay %s: %w", stream, err)
	}
	fresh := make([]domain.Event, 0, len(evs))
	for _, ev := range evs {
		if force || ev.Position().After(wm) {
			fresh = append(fresh, ev)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	batch := &domain.WriteBatch{}
	for _, ev := range fresh {
		if err := stage(batch, ev); err != nil {
			return 0, err
		}
	}
	if err := h.Records.Save(ctx, batch); err != nil {
		return 0, fmt.Errorf("ingest: replay %s: save %d events: %w", stream, len(fresh), err)
	}

	applied := 0
	for _, ev := range fresh {
		ok, err := h.commit(ctx, ev, force)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	if e.archiver != nil {
		if _, err := e.archiver.Archive(ctx, stream.Kind(), fresh); err != nil {
			e.logger.Warn("archive replayed events",
				slog.String("kind", stream.Kind().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return applied, nil
}
