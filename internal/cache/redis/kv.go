package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// KV implements domain.KV. Missing keys read as domain.ErrNotFound.
type KV struct {
	rdb *redis.Client
}

// NewKV creates a KV backed by the given Client.
func NewKV(c *Client) *KV {
	return &KV{rdb: c.Underlying()}
}

// Get returns the string value of key.
func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	v, err := kv.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value at key without expiry.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := kv.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (kv *KV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := kv.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// IncrInt increments an integer counter by one.
func (kv *KV) IncrInt(ctx context.Context, key string) (int64, error) {
	n, err := kv.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: incr %s: %w", key, err)
	}
	return n, nil
}

// IncrFloat increments a float counter by an exact decimal.
func (kv *KV) IncrFloat(ctx context.Context, key string, by decimal.Decimal) (decimal.Decimal, error) {
	v, err := kv.rdb.Do(ctx, "INCRBYFLOAT", key, by.String()).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: incrbyfloat %s: %w", key, err)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse %s: %w", key, err)
	}
	return d, nil
}

// SAdd adds members to a set.
func (kv *KV) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := kv.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis: sadd %s: %w", key, err)
	}
	return nil
}

// Transaction applies every command inside a single MULTI/EXEC block.
func (kv *KV) Transaction(ctx context.Context, cmds []domain.Command) error {
	_, err := kv.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range cmds {
			if err := queue(ctx, pipe, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: transaction: %w", err)
	}
	return nil
}

func queue(ctx context.Context, pipe redis.Pipeliner, c domain.Command) error {
	switch c.Op {
	case "set":
		pipe.Set(ctx, c.Key, c.Value, 0)
	case "setnx":
		pipe.SetNX(ctx, c.Key, c.Value, 0)
	case "incr":
		pipe.Incr(ctx, c.Key)
	case "incrbyfloat":
		pipe.Do(ctx, "INCRBYFLOAT", c.Key, c.Value)
	case "sadd":
		pipe.SAdd(ctx, c.Key, c.Value)
	default:
		return fmt.Errorf("unknown op %q for %s", c.Op, c.Key)
	}
	return nil
}

// Compile-time interface check.
var _ domain.KV = (*KV)(nil)
