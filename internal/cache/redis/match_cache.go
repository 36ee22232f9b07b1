package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MatchCache implements domain.MatchCache with one string key per field.
//
// Key schema:
//
//	match:{id}:status, match:{id}:score
//	match:{id}:totalNumBets, match:{id}:totalTeamA, match:{id}:totalTeamB, match:{id}:totalDraw
//	match:{id}:numPayoutAttempts
//	match:{id}:lastMatchMetaUpdate, match:{id}:lastMatchBetUpdate
type MatchCache struct {
	rdb *redis.Client
}

// NewMatchCache creates a MatchCache backed by the given Client.
func NewMatchCache(c *Client) *MatchCache {
	return &MatchCache{rdb: c.Underlying()}
}

// snapshotFields lists the fields read by Snapshot, in MGET order.
var snapshotFields = []string{
	domain.MatchFieldStatus,
	domain.MatchFieldScore,
	domain.MatchFieldNumBets,
	domain.MatchFieldTotalHome,
	domain.MatchFieldTotalAway,
	domain.MatchFieldTotalDraw,
	domain.MatchFieldNumPayoutAttempts,
	domain.MatchFieldLastMetaUpdate,
	domain.MatchFieldLastBetUpdate,
}

func aggregateFields(m domain.Match) map[string]string {
	return map[string]string{
		domain.MatchFieldNumBets:           strconv.FormatInt(m.NumBets, 10),
		domain.MatchFieldTotalHome:         m.TotalHome.String(),
		domain.MatchFieldTotalAway:         m.TotalAway.String(),
		domain.MatchFieldTotalDraw:         m.TotalDraw.String(),
		domain.MatchFieldNumPayoutAttempts: strconv.Itoa(m.NumPayoutAttempts),
	}
}

// Seed writes the initial key family of a match.
func (mc *MatchCache) Seed(ctx context.Context, m domain.Match, overwrite bool, at time.Time) error {
	fields := aggregateFields(m)
	fields[domain.MatchFieldStatus] = string(domain.InitialMatchStatus)
	fields[domain.MatchFieldScore] = domain.InitialMatchScore
	fields[domain.MatchFieldLastMetaUpdate] = domain.FormatTimestamp(at)
	fields[domain.MatchFieldLastBetUpdate] = domain.FormatTimestamp(at)

	pipe := mc.rdb.TxPipeline()
	for f, v := range fields {
		if overwrite {
			pipe.Set(ctx, domain.MatchKey(m.ID, f), v, 0)
		} else {
			pipe.SetNX(ctx, domain.MatchKey(m.ID, f), v, 0)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: seed match %d: %w", m.ID, err)
	}
	return nil
}

// TouchMeta refreshes the chain-side aggregates and the meta timestamp.
func (mc *MatchCache) TouchMeta(ctx context.Context, m domain.Match, at time.Time) error {
	fields := aggregateFields(m)
	fields[domain.MatchFieldLastMetaUpdate] = domain.FormatTimestamp(at)

	pipe := mc.rdb.TxPipeline()
	for f, v := range fields {
		pipe.Set(ctx, domain.MatchKey(m.ID, f), v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: touch match %d: %w", m.ID, err)
	}
	return nil
}

// WriteSnapshot stores a reconciled snapshot in one transaction.
func (mc *MatchCache) WriteSnapshot(ctx context.Context, s domain.MatchSnapshot) error {
	fields := map[string]string{
		domain.MatchFieldStatus:            string(s.Status),
		domain.MatchFieldScore:             s.Score,
		domain.MatchFieldNumBets:           strconv.FormatInt(s.NumBets, 10),
		domain.MatchFieldTotalHome:         s.TotalHome.String(),
		domain.MatchFieldTotalAway:         s.TotalAway.String(),
		domain.MatchFieldTotalDraw:         s.TotalDraw.String(),
		domain.MatchFieldNumPayoutAttempts: strconv.Itoa(s.NumPayoutAttempts),
		domain.MatchFieldLastMetaUpdate:    domain.FormatTimestamp(s.LastMetaUpdate),
	}

	pipe := mc.rdb.TxPipeline()
	for f, v := range fields {
		pipe.Set(ctx, domain.MatchKey(s.MatchID, f), v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: write snapshot %d: %w", s.MatchID, err)
	}
	return nil
}

// Snapshot reads the cached key family of a match. It returns
// domain.ErrNotFound when the match was never seeded.
func (mc *MatchCache) Snapshot(ctx context.Context, matchID uint64) (domain.MatchSnapshot, error) {
	keys := make([]string, len(snapshotFields))
	for i, f := range snapshotFields {
		keys[i] = domain.MatchKey(matchID, f)
	}
	vals, err := mc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.MatchSnapshot{}, fmt.Errorf("redis: read match %d: %w", matchID, err)
	}

	str := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}
	if str(0) == "" {
		return domain.MatchSnapshot{}, domain.ErrNotFound
	}

	s := domain.MatchSnapshot{
		MatchID: matchID,
		Status:  domain.FixtureStatus(str(0)),
		Score:   str(1),
	}
	s.NumBets, _ = strconv.ParseInt(str(2), 10, 64)
	s.TotalHome, _ = decimalOrZero(vals[3])
	s.TotalAway, _ = decimalOrZero(vals[4])
	s.TotalDraw, _ = decimalOrZero(vals[5])
	s.NumPayoutAttempts, _ = strconv.Atoi(str(6))
	s.LastMetaUpdate = parseMillis(str(7))
	s.LastBetUpdate = parseMillis(str(8))
	return s, nil
}

// BetIDs returns the wager keys recorded against a match.
func (mc *MatchCache) BetIDs(ctx context.Context, matchID uint64) ([]string, error) {
	ids, err := mc.rdb.SMembers(ctx, domain.MatchKey(matchID, domain.MatchFieldBetIDs)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read match wagers %d: %w", matchID, err)
	}
	return ids, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Compile-time interface check.
var _ domain.MatchCache = (*MatchCache)(nil)
