package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// Seeder performs the cold-start reconciliation steps.
type Seeder struct {
	h          *Handlers
	teams      domain.TeamStore
	startBlock uint64
	workers    int
	logger     *slog.Logger
}

// NewSeeder creates a Seeder. workers bounds concurrent match reads.
func NewSeeder(h *Handlers, teams domain.TeamStore, startBlock uint64, workers int, logger *slog.Logger) *Seeder {
	if workers <= 0 {
		workers = 8
	}
	return &Seeder{
		h:          h,
		teams:      teams,
		startBlock: startBlock,
		workers:    workers,
		logger:     logger.With(slog.String("component", "seeder")),
	}
}

// SeedCheckpoints writes default watermarks and zero counters for every key
// that is missing.
func (s *Seeder) SeedCheckpoints(ctx context.Context) error {
	if err := s.h.Checkpoints.SeedDefaults(ctx, s.startBlock); err != nil {
		return fmt.Errorf("ingest: seed checkpoints: %w", err)
	}
	return nil
}

// LoadWatermarks reads and logs every stream's watermark.
func (s *Seeder) LoadWatermarks(ctx context.Context) (domain.Watermarks, error) {
	wms, err := s.h.Checkpoints.Watermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: load watermarks: %w", err)
	}
	for _, stream := range domain.Streams {
		s.logger.Info("watermark loaded",
			slog.String("stream", string(stream)),
			slog.String("position", wms[stream].String()),
		)
	}
	return wms, nil
}

// SeedTeams rewrites the roster when the stored team count is off.
func (s *Seeder) SeedTeams(ctx context.Context) error {
	n, err := s.teams.Count(ctx)
	if err != nil {
		return fmt.Errorf("ingest: count teams: %w", err)
	}
	if n == int64(len(Roster)) {
		s.logger.Info("team roster present", slog.Int64("teams", n))
		return nil
	}
	s.logger.Info("reseeding team roster", slog.Int64("found", n), slog.Int("want", len(Roster)))
	if err := s.teams.ReplaceAll(ctx, s.roster(ctx)); err != nil {
		return fmt.Errorf("ingest: seed teams: %w", err)
	}
	return nil
}

// teamReader is implemented by chain readers that expose the contract's
// team table.
type teamReader interface {
	Team(ctx context.Context, id int) (string, error)
}

// roster returns Roster with names taken from the contract when the reader
// can read them. Any read failure falls back to the built-in names.
func (s *Seeder) roster(ctx context.Context) []domain.Team {
	tr, ok := s.h.Reader.(teamReader)
	if !ok {
		return Roster
	}
	out := make([]domain.Team, len(Roster))
	copy(out, Roster)
	for i := range out {
		name, err := tr.Team(ctx, out[i].ID)
		if err != nil {
			s.logger.Warn("read team from contract, using built-in roster",
				slog.Int("team_id", out[i].ID),
				slog.String("error", err.Error()),
			)
			return Roster
		}
		if name != "" && name != out[i].Name {
			s.logger.Warn("contract team name differs from roster",
				slog.Int("team_id", out[i].ID),
				slog.String("contract", name),
				slog.String("roster", out[i].Name),
			)
			out[i].Name = name
		}
	}
	return out
}

// SeedMatches enumerates every match on the contract, saves them in one
// batch, seeds their cache keys and arms their auto-updaters. With overwrite
// the cached status and score are reset; otherwise only missing keys are
// written and the aggregates refreshed.
func (s *Seeder) SeedMatches(ctx context.Context, overwrite bool) ([]domain.Match, error) {
	start := time.Now()
	n, err := s.h.Reader.NumMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: seed matches: %w", err)
	}

	matches := make([]domain.Match, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range matches {
		g.Go(func() error {
			m, err := s.h.Reader.Match(gctx, uint64(i))
			if err != nil {
				return err
			}
			matches[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest: seed matches: %w", err)
	}

	now := s.h.now()
	batch := &domain.WriteBatch{}
	for i := range matches {
		matches[i].UpdatedAt = now
		batch.AddMatch(matches[i])
	}
	if err := s.h.Records.Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("ingest: save %d matches: %w", len(matches), err)
	}

	for _, m := range matches {
		unlock := s.h.Locks.Lock(m.ID)
		err := s.h.Matches.Seed(ctx, m, overwrite, now)
		if err == nil && !overwrite {
			err = s.h.Matches.TouchMeta(ctx, m, now)
		}
		unlock()
		if err != nil {
			return nil, fmt.Errorf("ingest: seed match %d cache: %w", m.ID, err)
		}
		s.h.Scheduler.AutoUpdate(m)
	}

	s.logger.Info("matches seeded",
		slog.Int("matches", len(matches)),
		slog.Bool("overwrite", overwrite),
		slog.Duration("took", time.Since(start)),
	)
	return matches, nil
}

// RefreshMatches re-enumerates matches without resetting cached state. It
// is run by the engine on every resync.
func (s *Seeder) RefreshMatches(ctx context.Context) error {
	_, err := s.SeedMatches(ctx, false)
	return err
}
