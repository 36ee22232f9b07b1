package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one named stage of an ordered pipeline.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pipeline runs steps in order. The first failure aborts the rest.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// NewPipeline creates a pipeline of steps.
func NewPipeline(logger *slog.Logger, steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, logger: logger.With(slog.String("component", "startup"))}
}

// Run executes every step in order.
func (p *Pipeline) Run(ctx context.Context) error {
	for i, s := range p.steps {
		start := time.Now()
		p.logger.Info("startup step", slog.Int("step", i+1), slog.String("name", s.Name))
		if err := s.Run(ctx); err != nil {
			return fmt.Errorf("ingest: startup step %q: %w", s.Name, err)
		}
		p.logger.Info("startup step done", slog.String("name", s.Name), slog.Duration("took", time.Since(start)))
	}
	return nil
}

// StartupSteps returns the cold-start sequence. ready is closed once the
// live subscription is open, so nothing emitted after the replay's head
// read can be missed.
func StartupSteps(s *Seeder, e *Engine, ready <-chan struct{}) []Step {
	return []Step{
		{Name: "seed checkpoint defaults", Run: s.SeedCheckpoints},
		{Name: "load watermarks", Run: func(ctx context.Context) error {
			_, err := s.LoadWatermarks(ctx)
			return err
		}},
		{Name: "seed teams", Run: s.SeedTeams},
		{Name: "await event source", Run: func(ctx context.Context) error {
			select {
			case <-ready:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		{Name: "seed matches", Run: func(ctx context.Context) error {
			_, err := s.SeedMatches(ctx, true)
			return err
		}},
		{Name: "replay wager events", Run: func(ctx context.Context) error {
			_, err := e.Replay(ctx, 0, false)
			return err
		}},
		{Name: "go live", Run: e.GoLive},
	}
}
