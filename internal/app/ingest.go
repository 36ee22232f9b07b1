package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/wagerwatch/internal/chain"
	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/alanyoungcy/wagerwatch/internal/feed/footballdata"
	"github.com/alanyoungcy/wagerwatch/internal/ingest"
	"github.com/alanyoungcy/wagerwatch/internal/keylock"
	"github.com/alanyoungcy/wagerwatch/internal/notify"
	"github.com/alanyoungcy/wagerwatch/internal/reconcile"
)

// ingestor is the event pipeline of one process.
type ingestor struct {
	contract   *chain.Contract
	reader     *chain.Reader
	conn       *chain.ConnManager
	reconciler *reconcile.Scheduler
	engine     *ingest.Engine
	seeder     *ingest.Seeder
}

// buildIngestor wires the chain adapters, the reconciler and the sync
// engine. withReconcile is false for replay runs, which only rebuild
// aggregates.
func (a *App) buildIngestor(ctx context.Context, deps *Dependencies, withReconcile bool) (*ingestor, error) {
	cfg := a.cfg

	abiJSON, err := chain.LoadABI(cfg.Chain.ABIPath)
	if err != nil {
		return nil, err
	}
	contract, err := chain.NewContract(cfg.Chain.ContractAddress, abiJSON)
	if err != nil {
		return nil, err
	}

	rpc, err := ethclient.DialContext(ctx, cfg.Chain.HTTPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("app: dial chain http endpoint: %w", err)
	}
	a.closers = append(a.closers, rpc.Close)
	reader := chain.NewReader(rpc, contract, cfg.Chain.LogChunkSize, cfg.Chain.CallTimeout.Duration)

	locks := keylock.New[uint64]()
	ing := &ingestor{contract: contract, reader: reader}

	var sched ingest.Scheduler
	if withReconcile {
		feed := footballdata.NewClient(cfg.Feed.BaseURL, cfg.Feed.APIKey, cfg.Feed.Timeout.Duration,
			footballdata.WithRateLimit(deps.RateLimiter, cfg.Feed.RateLimit, cfg.Feed.RateWindow.Duration),
		)
		ing.reconciler = reconcile.New(reconcile.Config{
			LeadWindow:     cfg.Reconcile.LeadWindow.Duration,
			TerminalWindow: cfg.Reconcile.TerminalWindow.Duration,
			Interval:       cfg.Reconcile.Interval.Duration,
			RunTimeout:     cfg.Chain.CallTimeout.Duration + cfg.Feed.Timeout.Duration,
		}, reconcile.Deps{
			Reader:    reader,
			Records:   deps.Records,
			Feed:      feed,
			Cache:     deps.MatchCache,
			Publisher: deps.SignalBus,
			Locks:     locks,
		}, a.logger)
		sched = ing.reconciler
	}

	handlers := ingest.NewHandlers(ingest.HandlerConfig{
		BetDebounce:   cfg.Reconcile.BetDebounce.Duration,
		MatchDebounce: cfg.Reconcile.MatchDebounce.Duration,
	}, ingest.Deps{
		Reader:      reader,
		Records:     deps.Records,
		Checkpoints: deps.Checkpoints,
		Matches:     deps.MatchCache,
		Scheduler:   sched,
		Locks:       locks,
	}, a.logger)

	var archiver *ingest.Archiver
	if deps.BlobWriter != nil {
		archiver = ingest.NewArchiver(deps.BlobWriter, cfg.Archive.Prefix, a.logger)
	}

	ing.engine = ingest.NewEngine(ingest.EngineConfig{
		BufferCapacity: cfg.Sync.BufferCapacity,
		LaneCapacity:   cfg.Sync.LaneCapacity,
		HandlerRetries: cfg.Sync.HandlerRetries,
		RetryBackoff:   cfg.Sync.RetryBackoff.Duration,
	}, handlers, archiver, a.logger)
	ing.seeder = ingest.NewSeeder(handlers, deps.Teams, cfg.Chain.StartBlock, cfg.Sync.SeedWorkers, a.logger)
	ing.engine.SetMatchRefresh(ing.seeder.RefreshMatches)

	ing.conn = chain.NewConnManager(chain.ConnConfig{
		URL:         cfg.Chain.WSEndpoint,
		Increment:   cfg.Chain.ReconnectIncrement.Duration,
		MaxAttempts: cfg.Chain.MaxReconnects,
		DialTimeout: cfg.Chain.DialTimeout.Duration,
	}, chain.DialWS, contract, a.logger)
	for _, kind := range domain.EventKinds {
		ing.conn.Register(kind, ing.engine.Deliver)
	}
	ing.conn.OnReconnect(func(ctx context.Context) error {
		a.alert(notify.EventReconnect, "Event source reconnected",
			fmt.Sprintf("instance %s resubscribed, catching up from stored watermarks", ing.conn.InstanceID()))
		if err := ing.engine.Resync(ctx); err != nil {
			return err
		}
		a.alert(notify.EventResync, "Resync complete", "live delivery resumed")
		return nil
	})

	return ing, nil
}

// lockKey names the per-contract instance lock.
func (ing *ingestor) lockKey() string {
	return "wagerwatch:instance:" + ing.contract.Address.Hex()
}

func (a *App) logIngestor(ing *ingestor) {
	a.logger.Info("ingestor ready",
		slog.String("contract", ing.contract.Address.Hex()),
		slog.String("conn_instance", ing.conn.InstanceID()),
		slog.Bool("reconcile", ing.reconciler != nil),
	)
}
