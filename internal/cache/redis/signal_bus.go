package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// subscriberBuffer is the number of payloads queued per subscriber before
// go-redis starts dropping them.
const subscriberBuffer = 256

// SignalBus fans reconciled match snapshots out over Redis pub/sub so every
// read API process sees them, whichever process ran the reconcile.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// PublishSnapshot encodes s as JSON onto domain.ChannelMatchUpdates.
func (sb *SignalBus) PublishSnapshot(ctx context.Context, s domain.MatchSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot of match %d: %w", s.MatchID, err)
	}
	return sb.Publish(ctx, domain.ChannelMatchUpdates, payload)
}

// Subscribe listens on channel until ctx is cancelled, then closes the
// returned channel. It returns once the server has confirmed the
// subscription, so nothing published afterwards is missed.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ps := sb.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
