package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

const matchSelectCols = `id, name, fixture_id, secondary_fixture_id, inverted,
	home_team, away_team, winner, start_time, close_time,
	total_home::text, total_away::text, total_draw::text, num_bets,
	cancelled, locked, num_payout_attempts, updated_at`

func scanMatch(row pgx.Row) (domain.Match, error) {
	var (
		m                   domain.Match
		id                  int64
		start, closeAt      *time.Time
		home, away, drawAmt string
	)
	if err := row.Scan(
		&id, &m.Name, &m.FixtureID, &m.SecondaryFixtureID, &m.Inverted,
		&m.HomeTeam, &m.AwayTeam, &m.Winner, &start, &closeAt,
		&home, &away, &drawAmt, &m.NumBets,
		&m.Cancelled, &m.Locked, &m.NumPayoutAttempts, &m.UpdatedAt,
	); err != nil {
		return domain.Match{}, err
	}
	m.ID = uint64(id)
	if start != nil {
		m.StartTime = *start
	}
	if closeAt != nil {
		m.CloseTime = *closeAt
	}
	var err error
	if m.TotalHome, err = decimal.NewFromString(home); err != nil {
		return domain.Match{}, err
	}
	if m.TotalAway, err = decimal.NewFromString(away); err != nil {
		return domain.Match{}, err
	}
	if m.TotalDraw, err = decimal.NewFromString(drawAmt); err != nil {
		return domain.Match{}, err
	}
	return m, nil
}

// GetByID returns a match or domain.ErrNotFound.
func (s *MatchStore) GetByID(ctx context.Context, id uint64) (domain.Match, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchSelectCols+` FROM matches WHERE id = $1`, int64(id))
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Match{}, fmt.Errorf("postgres: get match %d: %w", id, err)
	}
	return m, nil
}

// List returns matches ordered by start time.
func (s *MatchStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchSelectCols+` FROM matches
		 WHERE ($1::timestamptz IS NULL OR start_time >= $1)
		 ORDER BY start_time NULLS LAST, id
		 LIMIT $2 OFFSET $3`,
		opts.Since, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of stored matches.
func (s *MatchStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count matches: %w", err)
	}
	return n, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.MatchStore = (*MatchStore)(nil)
