package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// RecordStore implements domain.RecordStore. A batch is written inside one
// transaction, so a failed Save leaves nothing behind and can be retried with
// the same batch.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore creates a new RecordStore backed by the given connection pool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

const upsertMatchQuery = `
	INSERT INTO matches (
		id, name, fixture_id, secondary_fixture_id, inverted,
		home_team, away_team, winner, start_time, close_time,
		total_home, total_away, total_draw, num_bets,
		cancelled, locked, num_payout_attempts, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11::numeric, $12::numeric, $13::numeric, $14,
		$15, $16, $17, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		name                 = EXCLUDED.name,
		fixture_id           = EXCLUDED.fixture_id,
		secondary_fixture_id = EXCLUDED.secondary_fixture_id,
		inverted             = EXCLUDED.inverted,
		home_team            = EXCLUDED.home_team,
		away_team            = EXCLUDED.away_team,
		winner               = EXCLUDED.winner,
		start_time           = EXCLUDED.start_time,
		close_time           = EXCLUDED.close_time,
		total_home           = EXCLUDED.total_home,
		total_away           = EXCLUDED.total_away,
		total_draw           = EXCLUDED.total_draw,
		num_bets             = EXCLUDED.num_bets,
		cancelled            = EXCLUDED.cancelled,
		locked               = EXCLUDED.locked,
		num_payout_attempts  = EXCLUDED.num_payout_attempts,
		updated_at           = NOW()`

// Flags only ever turn on, whichever of placement and flag lands first.
const upsertWagerQuery = `
	INSERT INTO wagers (
		match_id, wager_id, bettor, amount, outcome,
		cancelled, claimed, block, updated_at
	) VALUES (
		$1, $2, $3, $4::numeric, $5,
		$6, $7, $8, NOW()
	)
	ON CONFLICT (match_id, wager_id) DO UPDATE SET
		bettor     = EXCLUDED.bettor,
		amount     = EXCLUDED.amount,
		outcome    = EXCLUDED.outcome,
		block      = EXCLUDED.block,
		cancelled  = wagers.cancelled OR EXCLUDED.cancelled,
		claimed    = wagers.claimed OR EXCLUDED.claimed,
		updated_at = NOW()`

const flagCancelledQuery = `
	INSERT INTO wagers (match_id, wager_id, cancelled, updated_at)
	VALUES ($1, $2, TRUE, NOW())
	ON CONFLICT (match_id, wager_id) DO UPDATE SET
		cancelled  = TRUE,
		updated_at = NOW()`

const flagClaimedQuery = `
	INSERT INTO wagers (match_id, wager_id, claimed, updated_at)
	VALUES ($1, $2, TRUE, NOW())
	ON CONFLICT (match_id, wager_id) DO UPDATE SET
		claimed    = TRUE,
		updated_at = NOW()`

// Save writes every queued record in one transaction and resets the batch on
// success.
func (s *RecordStore) Save(ctx context.Context, b *domain.WriteBatch) error {
	n := b.Len()
	if n == 0 {
		return nil
	}

	batch := queueRecords(b)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("batch item %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("postgres: save %d records: %w", n, err)
	}

	b.Reset()
	return nil
}

// queueRecords turns b into one pgx batch: matches, then wagers, then flags.
func queueRecords(b *domain.WriteBatch) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, m := range b.Matches {
		batch.Queue(upsertMatchQuery,
			int64(m.ID), m.Name, m.FixtureID, m.SecondaryFixtureID, m.Inverted,
			m.HomeTeam, m.AwayTeam, m.Winner, nullTime(m.StartTime), nullTime(m.CloseTime),
			m.TotalHome.String(), m.TotalAway.String(), m.TotalDraw.String(), m.NumBets,
			m.Cancelled, m.Locked, m.NumPayoutAttempts,
		)
	}
	for _, w := range b.Wagers {
		batch.Queue(upsertWagerQuery,
			int64(w.MatchID), int64(w.ID), w.Bettor, w.Amount.String(), w.Outcome,
			w.Cancelled, w.Claimed, int64(w.Block),
		)
	}
	for _, f := range b.Cancelled {
		batch.Queue(flagCancelledQuery, int64(f.MatchID), int64(f.WagerID))
	}
	for _, f := range b.Claimed {
		batch.Queue(flagClaimedQuery, int64(f.MatchID), int64(f.WagerID))
	}
	return batch
}

// Compile-time interface check.
var _ domain.RecordStore = (*RecordStore)(nil)
