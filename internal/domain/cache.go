package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CheckpointStore holds watermarks and aggregate counters. Every Apply method
// re-checks the watermark atomically with its writes and reports whether the
// event was applied.
type CheckpointStore interface {
	SeedDefaults(ctx context.Context, startBlock uint64) error
	Watermark(ctx context.Context, stream Stream) (Position, error)
	Watermarks(ctx context.Context) (Watermarks, error)
	ApplyWagerPlaced(ctx context.Context, w Wager, pos Position, at time.Time, force bool) (bool, error)
	ApplyWagerFlag(ctx context.Context, stream Stream, matchID uint64, pos Position, at time.Time, force bool) (bool, error)
	Counters(ctx context.Context) (Counters, error)
	UserTotals(ctx context.Context, addr string) (UserTotals, error)
}

// MatchCache holds the per-match key family.
type MatchCache interface {
	// Seed writes the initial status, score and aggregates. Without overwrite
	// existing keys are left untouched.
	Seed(ctx context.Context, m Match, overwrite bool, at time.Time) error
	TouchMeta(ctx context.Context, m Match, at time.Time) error
	WriteSnapshot(ctx context.Context, s MatchSnapshot) error
	Snapshot(ctx context.Context, matchID uint64) (MatchSnapshot, error)
}

// Command is a single write queued in a KV transaction.
type Command struct {
	Op    string // "set", "setnx", "incr", "incrbyfloat", "sadd"
	Key   string
	Value string
}

// KV is the generic key/value surface of the cache.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Exists(ctx context.Context, key string) (bool, error)
	IncrInt(ctx context.Context, key string) (int64, error)
	IncrFloat(ctx context.Context, key string, by decimal.Decimal) (decimal.Decimal, error)
	SAdd(ctx context.Context, key string, members ...string) error
	Transaction(ctx context.Context, cmds []Command) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock that must be refreshed before its TTL runs out.
type Lock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// SignalBus provides pub/sub for live snapshot fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ChannelMatchUpdates carries JSON-encoded MatchSnapshot values.
const ChannelMatchUpdates = "match_updates"
