package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// maxTxRetries bounds optimistic retries when a watched watermark changes
// between read and EXEC.
const maxTxRetries = 8

// EndOfBlock is the log index of a watermark that covers its whole block.
const EndOfBlock = uint(math.MaxUint32)

// CheckpointStore implements domain.CheckpointStore.
//
// Key schema:
//
//	lastBet{Placed,Cancelled,Claimed}Block     - watermark block
//	lastBet{Placed,Cancelled,Claimed}LogIndex  - log index within that block
//	contract:{numBets,totalBet,totalWon}       - global counters
//	user:{addr}:totalBet, user:{addr}:betIds   - per-bettor aggregates
//	match:{id}:betIds, match:{id}:lastMatchBetUpdate
type CheckpointStore struct {
	rdb *redis.Client
	kv  *KV
}

// NewCheckpointStore creates a CheckpointStore backed by the given Client.
func NewCheckpointStore(c *Client) *CheckpointStore {
	return &CheckpointStore{rdb: c.Underlying(), kv: NewKV(c)}
}

// SeedDefaults writes initial watermarks and zero counters for every key
// that does not exist yet.
func (s *CheckpointStore) SeedDefaults(ctx context.Context, startBlock uint64) error {
	start := strconv.FormatUint(startBlock, 10)
	cmds := make([]domain.Command, 0, len(domain.Streams)+3)
	for _, st := range domain.Streams {
		cmds = append(cmds, domain.Command{Op: "setnx", Key: st.BlockKey(), Value: start})
	}
	for _, k := range []string{domain.KeyNumBets, domain.KeyTotalBet, domain.KeyTotalWon} {
		cmds = append(cmds, domain.Command{Op: "setnx", Key: k, Value: "0"})
	}
	if err := s.kv.Transaction(ctx, cmds); err != nil {
		return fmt.Errorf("redis: seed checkpoints: %w", err)
	}
	return nil
}

// Watermark returns the stored position of a stream. A missing log index
// means the whole block was consumed.
func (s *CheckpointStore) Watermark(ctx context.Context, stream domain.Stream) (domain.Position, error) {
	return readPosition(ctx, s.rdb, stream)
}

// Watermarks returns the stored position of every stream.
func (s *CheckpointStore) Watermarks(ctx context.Context) (domain.Watermarks, error) {
	out := make(domain.Watermarks, len(domain.Streams))
	for _, st := range domain.Streams {
		p, err := readPosition(ctx, s.rdb, st)
		if err != nil {
			return nil, err
		}
		out[st] = p
	}
	return out, nil
}

// mgetter is satisfied by both *redis.Client and *redis.Tx.
type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readPosition(ctx context.Context, c mgetter, stream domain.Stream) (domain.Position, error) {
	vals, err := c.MGet(ctx, stream.BlockKey(), stream.IndexKey()).Result()
	if err != nil {
		return domain.Position{}, fmt.Errorf("redis: read watermark %s: %w", stream, err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return domain.Position{}, fmt.Errorf("redis: read watermark %s: %w", stream, domain.ErrNotFound)
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return domain.Position{}, fmt.Errorf("redis: parse watermark %s=%q: %w", stream, raw, err)
	}
	pos := domain.Position{Block: block, Index: EndOfBlock}
	if rawIdx, ok := vals[1].(string); ok {
		idx, err := strconv.ParseUint(rawIdx, 10, 32)
		if err != nil {
			return domain.Position{}, fmt.Errorf("redis: parse log index %s=%q: %w", stream, rawIdx, err)
		}
		pos.Index = uint(idx)
	}
	return pos, nil
}

// ApplyWagerPlaced advances the placed watermark and updates every aggregate
// touched by the wager in one transaction.
func (s *CheckpointStore) ApplyWagerPlaced(ctx context.Context, w domain.Wager, pos domain.Position, at time.Time, force bool) (bool, error) {
	amount := w.Amount.String()
	cmds := []domain.Command{
		{Op: "incr", Key: domain.KeyNumBets},
		{Op: "incrbyfloat", Key: domain.KeyTotalBet, Value: amount},
		{Op: "incrbyfloat", Key: domain.UserTotalBetKey(w.Bettor), Value: amount},
		{Op: "sadd", Key: domain.UserBetIDsKey(w.Bettor), Value: w.Key()},
		{Op: "sadd", Key: domain.MatchKey(w.MatchID, domain.MatchFieldBetIDs), Value: w.Key()},
		{Op: "set", Key: domain.MatchKey(w.MatchID, domain.MatchFieldLastBetUpdate), Value: domain.FormatTimestamp(at)},
	}
	return s.apply(ctx, domain.StreamWagerPlaced, pos, force, cmds)
}

// ApplyWagerFlag advances a cancel or claim watermark and bumps the match's
// bet timestamp. Aggregates are left as they are.
func (s *CheckpointStore) ApplyWagerFlag(ctx context.Context, stream domain.Stream, matchID uint64, pos domain.Position, at time.Time, force bool) (bool, error) {
	cmds := []domain.Command{
		{Op: "set", Key: domain.MatchKey(matchID, domain.MatchFieldLastBetUpdate), Value: domain.FormatTimestamp(at)},
	}
	return s.apply(ctx, stream, pos, force, cmds)
}

// apply runs cmds together with the watermark advance under WATCH, so the
// watermark comparison and the writes are atomic. The watermark never moves
// backwards, even when forced.
func (s *CheckpointStore) apply(ctx context.Context, stream domain.Stream, pos domain.Position, force bool, cmds []domain.Command) (bool, error) {
	applied := false
	txf := func(tx *redis.Tx) error {
		applied = false
		cur, err := readPosition(ctx, tx, stream)
		if err != nil {
			return err
		}
		advance := pos.After(cur)
		if !advance && !force {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if advance {
				pipe.Set(ctx, stream.BlockKey(), strconv.FormatUint(pos.Block, 10), 0)
				pipe.Set(ctx, stream.IndexKey(), strconv.FormatUint(uint64(pos.Index), 10), 0)
			}
			for _, c := range cmds {
				if err := queue(ctx, pipe, c); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, stream.BlockKey(), stream.IndexKey())
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("redis: apply %s at %s: %w", stream, pos, err)
	}
	return false, fmt.Errorf("redis: apply %s at %s: %w", stream, pos, redis.TxFailedErr)
}

// Counters returns the global aggregates.
func (s *CheckpointStore) Counters(ctx context.Context) (domain.Counters, error) {
	vals, err := s.rdb.MGet(ctx, domain.KeyNumBets, domain.KeyTotalBet, domain.KeyTotalWon).Result()
	if err != nil {
		return domain.Counters{}, fmt.Errorf("redis: read counters: %w", err)
	}
	var c domain.Counters
	if raw, ok := vals[0].(string); ok {
		if c.NumBets, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return domain.Counters{}, fmt.Errorf("redis: parse %s: %w", domain.KeyNumBets, err)
		}
	}
	if c.TotalBet, err = decimalOrZero(vals[1]); err != nil {
		return domain.Counters{}, fmt.Errorf("redis: parse %s: %w", domain.KeyTotalBet, err)
	}
	if c.TotalWon, err = decimalOrZero(vals[2]); err != nil {
		return domain.Counters{}, fmt.Errorf("redis: parse %s: %w", domain.KeyTotalWon, err)
	}
	return c, nil
}

// UserTotals returns a bettor's running total and wager keys.
func (s *CheckpointStore) UserTotals(ctx context.Context, addr string) (domain.UserTotals, error) {
	total, err := s.rdb.Get(ctx, domain.UserTotalBetKey(addr)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.UserTotals{}, fmt.Errorf("redis: read user total %s: %w", addr, err)
	}
	ids, err := s.rdb.SMembers(ctx, domain.UserBetIDsKey(addr)).Result()
	if err != nil {
		return domain.UserTotals{}, fmt.Errorf("redis: read user wagers %s: %w", addr, err)
	}
	sort.Strings(ids)

	out := domain.UserTotals{Address: addr, TotalBet: decimal.Zero, WagerIDs: ids}
	if total != "" {
		if out.TotalBet, err = decimal.NewFromString(total); err != nil {
			return domain.UserTotals{}, fmt.Errorf("redis: parse user total %s: %w", addr, err)
		}
	}
	return out, nil
}

func decimalOrZero(v interface{}) (decimal.Decimal, error) {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// Compile-time interface check.
var _ domain.CheckpointStore = (*CheckpointStore)(nil)
