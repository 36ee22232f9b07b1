package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// LogSubscriber is the streaming subset of *ethclient.Client.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Dialer opens a streaming connection to url.
type Dialer func(ctx context.Context, url string) (LogSubscriber, error)

// DialWS dials a WebSocket endpoint with go-ethereum's client.
func DialWS(ctx context.Context, url string) (LogSubscriber, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EventHandler receives decoded events of one kind.
type EventHandler func(ctx context.Context, ev domain.Event)

// ConnConfig tunes the connection manager.
type ConnConfig struct {
	URL string
	// Increment is multiplied by the number of consecutive failures to get
	// the delay before the next attempt.
	Increment   time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	BufferSize  int
}

type registration struct {
	kind    domain.EventKind
	handler EventHandler
}

// ConnManager owns the live log subscription. It replays the registered
// subscriptions on every connect and retries with linear backoff until
// MaxAttempts consecutive failures.
type ConnManager struct {
	cfg      ConnConfig
	dial     Dialer
	contract *Contract
	logger   *slog.Logger
	id       string

	mu          sync.Mutex
	registry    []registration
	onReconnect func(ctx context.Context) error

	ready     chan struct{}
	readyOnce sync.Once
	connected atomic.Bool
	sessions  atomic.Int64

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnManager creates a manager with a fresh instance id.
func NewConnManager(cfg ConnConfig, dial Dialer, contract *Contract, logger *slog.Logger) *ConnManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if dial == nil {
		dial = DialWS
	}
	id := uuid.New().String()
	return &ConnManager{
		cfg:      cfg,
		dial:     dial,
		contract: contract,
		id:       id,
		logger:   logger.With(slog.String("component", "conn_manager"), slog.String("instance", id)),
		ready:    make(chan struct{}),
		sleep:    sleepCtx,
	}
}

// InstanceID identifies this manager in logs.
func (m *ConnManager) InstanceID() string { return m.id }

// Connected reports whether a subscription is currently open.
func (m *ConnManager) Connected() bool { return m.connected.Load() }

// Ready is closed once the first subscription is open.
func (m *ConnManager) Ready() <-chan struct{} { return m.ready }

// Register adds a handler for kind. Registrations are replayed on every
// connect; kinds the ABI does not declare are skipped.
func (m *ConnManager) Register(kind domain.EventKind, h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.contract.Supports(kind) {
		m.logger.Info("event kind not declared by contract abi, not subscribing", slog.String("kind", kind.String()))
		return
	}
	m.registry = append(m.registry, registration{kind: kind, handler: h})
}

// OnReconnect sets the callback run after a reconnect has subscribed and
// before any of the new subscription's events are delivered. An error counts
// as a failed attempt.
func (m *ConnManager) OnReconnect(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = fn
}

// Run connects and keeps the subscription alive until ctx is cancelled. It
// returns domain.ErrReconnectExhausted after MaxAttempts consecutive
// failures.
func (m *ConnManager) Run(ctx context.Context) error {
	attempts := 0
	for {
		established, err := m.session(ctx)
		if ctx.Err() != nil {
			m.logger.Info("event source stopped")
			return nil
		}
		if established {
			attempts = 0
		}

		delay := time.Duration(attempts) * m.cfg.Increment
		attempts++
		if attempts >= m.cfg.MaxAttempts {
			m.logger.Error("event source failed, giving up",
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("chain: %w after %d attempts: %v", domain.ErrReconnectExhausted, attempts, err)
		}

		m.logger.Warn("event source failed, reconnecting",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := m.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session runs one connection. established is true once the subscription
// was opened and any reconnect callback succeeded.
func (m *ConnManager) session(ctx context.Context) (established bool, err error) {
	m.mu.Lock()
	regs := append([]registration(nil), m.registry...)
	onReconnect := m.onReconnect
	m.mu.Unlock()

	if len(regs) == 0 {
		return false, errors.New("no event kinds registered")
	}
	handlers := make(map[domain.EventKind]EventHandler, len(regs))
	kinds := make([]domain.EventKind, 0, len(regs))
	for _, r := range regs {
		handlers[r.kind] = r.handler
		kinds = append(kinds, r.kind)
	}

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if m.cfg.DialTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
	}
	conn, err := m.dial(dctx, m.cfg.URL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	q := ethereum.FilterQuery{
		Addresses: []common.Address{m.contract.Address},
		Topics:    [][]common.Hash{m.contract.Topics(kinds)},
	}
	logs := make(chan types.Log, m.cfg.BufferSize)
	sub, err := conn.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	reconnect := m.sessions.Add(1) > 1
	m.connected.Store(true)
	defer m.connected.Store(false)
	m.logger.Info("event source connected", slog.Bool("reconnect", reconnect), slog.Int("kinds", len(kinds)))

	if reconnect && onReconnect != nil {
		if err := onReconnect(ctx); err != nil {
			return false, fmt.Errorf("reconnect callback: %w", err)
		}
	}
	m.readyOnce.Do(func() { close(m.ready) })

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			return true, fmt.Errorf("subscription: %w", err)
		case lg := <-logs:
			m.dispatch(ctx, handlers, lg)
		}
	}
}

func (m *ConnManager) dispatch(ctx context.Context, handlers map[domain.EventKind]EventHandler, lg types.Log) {
	if lg.Removed {
		m.logger.Warn("dropping removed log",
			slog.Uint64("block", lg.BlockNumber),
			slog.Uint64("log_index", uint64(lg.Index)),
			slog.String("tx", lg.TxHash.Hex()),
		)
		return
	}
	ev, err := m.contract.Decode(lg)
	if err != nil {
		m.logger.Error("decode log", slog.Uint64("block", lg.BlockNumber), slog.String("error", err.Error()))
		return
	}
	if h, ok := handlers[ev.Kind]; ok {
		h(ctx, ev)
	}
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
