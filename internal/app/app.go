// Package app wires the wager observer's dependencies and runs the
// configured mode until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/config"
	"github.com/alanyoungcy/wagerwatch/internal/notify"
)

// Options carries command line settings that are not part of the config
// file.
type Options struct {
	// ReplayFrom is the block a replay run starts from.
	ReplayFrom uint64
}

// App owns the configuration, the logger and the cleanup functions that run
// in reverse order on Close.
type App struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	notifier *notify.Notifier
	closers  []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and runs the configured mode until ctx is cancelled
// or a fatal error occurs. Fatal errors are also sent as alerts.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.notifier = deps.Notifier

	switch strings.ToLower(a.cfg.Mode) {
	case "observe":
		err = a.ObserveMode(ctx, deps)
	case "server":
		err = a.ServerMode(ctx, deps)
	case "full":
		err = a.FullMode(ctx, deps)
	case "replay":
		err = a.ReplayMode(ctx, deps)
	default:
		err = fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.notifier.Notify(nctx, notify.EventFatal, "wagerwatch stopped", err.Error())
	}
	return err
}

// alert sends a non-fatal notification without blocking the caller.
func (a *App) alert(event, title, message string) {
	if !a.notifier.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.notifier.Notify(ctx, event, title, message)
	}()
}

// Close releases resources in reverse registration order. Subsequent calls
// are no-ops.
func (a *App) Close() {
	a.logger.Info("releasing resources")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
