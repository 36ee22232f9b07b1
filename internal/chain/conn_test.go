package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSub struct{ errc chan error }

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      {}

// fakeConn queues logs at subscribe time. With dropped set the subscription
// fails as soon as the queued logs are drained.
type fakeConn struct {
	logs    []types.Log
	dropped bool
	sub     *fakeSub
}

func (c *fakeConn) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	for _, lg := range c.logs {
		ch <- lg
	}
	c.sub = &fakeSub{errc: make(chan error, 1)}
	if c.dropped && len(c.logs) == 0 {
		c.sub.errc <- errors.New("connection reset")
	}
	return c.sub, nil
}

func (c *fakeConn) Close() {}

type dialScript struct {
	mu    sync.Mutex
	steps []func() (LogSubscriber, error)
	calls int
	// done runs when the script is exhausted.
	done func()
}

func (s *dialScript) dial(context.Context, string) (LogSubscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		if s.done != nil {
			s.done()
		}
		return nil, errors.New("script exhausted")
	}
	return s.steps[i]()
}

func failDial() (LogSubscriber, error) { return nil, errors.New("dial refused") }

func newTestManager(t *testing.T, dial Dialer) (*ConnManager, *[]time.Duration) {
	t.Helper()
	m := NewConnManager(ConnConfig{URL: "ws://node", Increment: 1200 * time.Millisecond, MaxAttempts: 5}, dial, testContract(t), discardLogger())
	delays := &[]time.Duration{}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return m, delays
}

func TestConnManagerGivesUpAfterMaxAttempts(t *testing.T) {
	s := &dialScript{}
	for i := 0; i < 10; i++ {
		s.steps = append(s.steps, failDial)
	}
	m, delays := newTestManager(t, s.dial)
	m.Register(domain.EventWagerPlaced, func(context.Context, domain.Event) {})

	err := m.Run(context.Background())
	if !errors.Is(err, domain.ErrReconnectExhausted) {
		t.Fatalf("run: got %v, want ErrReconnectExhausted", err)
	}
	if s.calls != 5 {
		t.Errorf("dials: got %d, want 5", s.calls)
	}
	want := "[0s 1.2s 2.4s 3.6s]"
	if got := fmt.Sprint(*delays); got != want {
		t.Errorf("delays: got %s, want %s", got, want)
	}
}

func TestConnManagerResetsAttemptsAfterSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &dialScript{done: cancel}
	for i := 0; i < 4; i++ {
		s.steps = append(s.steps, failDial)
	}
	s.steps = append(s.steps, func() (LogSubscriber, error) { return &fakeConn{dropped: true}, nil })
	for i := 0; i < 3; i++ {
		s.steps = append(s.steps, failDial)
	}

	m, delays := newTestManager(t, s.dial)
	m.Register(domain.EventWagerPlaced, func(context.Context, domain.Event) {})

	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "[0s 1.2s 2.4s 3.6s 0s 1.2s 2.4s 3.6s]"
	if got := fmt.Sprint(*delays); got != want {
		t.Errorf("delays: got %s, want %s", got, want)
	}
	select {
	case <-m.Ready():
	default:
		t.Errorf("ready not closed after a session")
	}
}

func TestConnManagerReconnectCallbackRunsBeforeDelivery(t *testing.T) {
	c := testContract(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	placed := func(block uint64, id int64) types.Log {
		return packLog(t, c, domain.EventWagerPlaced, block, 0,
			uint8(1), uint8(domain.OutcomeDraw), big.NewInt(id), big.NewInt(1), common.HexToAddress("0x01"))
	}
	first := &fakeConn{logs: []types.Log{placed(100, 1)}}
	second := &fakeConn{logs: []types.Log{placed(150, 2)}}
	s := &dialScript{steps: []func() (LogSubscriber, error){
		func() (LogSubscriber, error) { return first, nil },
		func() (LogSubscriber, error) { return second, nil },
	}}

	m, _ := newTestManager(t, s.dial)
	var order []string
	m.Register(domain.EventWagerPlaced, func(_ context.Context, ev domain.Event) {
		order = append(order, fmt.Sprintf("event %d", ev.Block))
		switch ev.Block {
		case 100:
			first.sub.errc <- errors.New("connection reset")
		case 150:
			cancel()
		}
	})
	m.OnReconnect(func(context.Context) error {
		order = append(order, "reconnect")
		if !m.Connected() {
			t.Errorf("callback ran before the subscription was open")
		}
		return nil
	})

	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "[event 100 reconnect event 150]"
	if got := fmt.Sprint(order); got != want {
		t.Errorf("order: got %s, want %s", got, want)
	}
	if m.Connected() {
		t.Errorf("still connected after stop")
	}
}

func TestConnManagerCallbackFailureCountsAsAttempt(t *testing.T) {
	s := &dialScript{}
	for i := 0; i < 10; i++ {
		s.steps = append(s.steps, func() (LogSubscriber, error) { return &fakeConn{dropped: true}, nil })
	}
	m, _ := newTestManager(t, s.dial)
	m.Register(domain.EventWagerClaimed, func(context.Context, domain.Event) {})
	m.OnReconnect(func(context.Context) error { return errors.New("catch-up failed") })

	err := m.Run(context.Background())
	if !errors.Is(err, domain.ErrReconnectExhausted) {
		t.Fatalf("run: got %v", err)
	}
	// The first session's drop plus four callback failures.
	if s.calls != 5 {
		t.Errorf("dials: got %d, want 5", s.calls)
	}
}

func TestConnManagerSkipsUndeclaredKinds(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Register(domain.EventMatchOver, func(context.Context, domain.Event) {})
	if len(m.registry) != 0 {
		t.Errorf("registry: got %d entries, want 0", len(m.registry))
	}
}
