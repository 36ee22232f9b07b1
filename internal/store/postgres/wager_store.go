package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

const wagerSelectCols = `match_id, wager_id, bettor, amount::text, outcome, cancelled, claimed, block`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var (
		w                     domain.Wager
		matchID, wagerID, blk int64
		amount                string
	)
	if err := row.Scan(&matchID, &wagerID, &w.Bettor, &amount, &w.Outcome, &w.Cancelled, &w.Claimed, &blk); err != nil {
		return domain.Wager{}, err
	}
	w.MatchID, w.ID, w.Block = uint64(matchID), uint64(wagerID), uint64(blk)
	var err error
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Wager{}, err
	}
	return w, nil
}

func scanWagers(rows pgx.Rows) ([]domain.Wager, error) {
	defer rows.Close()
	var out []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Get returns a single wager or domain.ErrNotFound.
func (s *WagerStore) Get(ctx context.Context, matchID, wagerID uint64) (domain.Wager, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE match_id = $1 AND wager_id = $2`,
		int64(matchID), int64(wagerID),
	)
	w, err := scanWager(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wager{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %d:%d: %w", matchID, wagerID, err)
	}
	return w, nil
}

// ListByMatch returns a match's wagers ordered by wager id.
func (s *WagerStore) ListByMatch(ctx context.Context, matchID uint64, opts domain.ListOpts) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE match_id = $1
		 ORDER BY wager_id LIMIT $2 OFFSET $3`,
		int64(matchID), limitOrDefault(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers for match %d: %w", matchID, err)
	}
	out, err := scanWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wagers for match %d: %w", matchID, err)
	}
	return out, nil
}

// ListByBettor returns a bettor's wagers, newest block first.
func (s *WagerStore) ListByBettor(ctx context.Context, addr string, opts domain.ListOpts) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE bettor = $1
		 ORDER BY block DESC, match_id, wager_id LIMIT $2 OFFSET $3`,
		strings.ToLower(addr), limitOrDefault(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers for %s: %w", addr, err)
	}
	out, err := scanWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wagers for %s: %w", addr, err)
	}
	return out, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// Compile-time interface check.
var _ domain.WagerStore = (*WagerStore)(nil)
