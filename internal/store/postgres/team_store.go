package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// TeamStore implements domain.TeamStore using PostgreSQL.
type TeamStore struct {
	pool *pgxpool.Pool
}

// NewTeamStore creates a new TeamStore backed by the given connection pool.
func NewTeamStore(pool *pgxpool.Pool) *TeamStore {
	return &TeamStore{pool: pool}
}

// Count returns the number of stored teams.
func (s *TeamStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM teams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count teams: %w", err)
	}
	return n, nil
}

// ReplaceAll deletes the roster and writes teams in one transaction.
func (s *TeamStore) ReplaceAll(ctx context.Context, teams []domain.Team) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM teams`); err != nil {
			return err
		}
		rows := make([][]any, len(teams))
		for i, t := range teams {
			rows[i] = []any{t.ID, t.Name}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"teams"}, []string{"id", "name"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: replace %d teams: %w", len(teams), err)
	}
	return nil
}

// List returns the roster ordered by id.
func (s *TeamStore) List(ctx context.Context) ([]domain.Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list teams: %w", err)
	}
	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Team, error) {
		var t domain.Team
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan teams: %w", err)
	}
	return teams, nil
}

// Compile-time interface check.
var _ domain.TeamStore = (*TeamStore)(nil)
