package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elcapitan88/polybot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Open inserts a new opportunity episode and returns its generated ID.
func (s *OpportunityStore) Open(ctx context.Context, ep domain.OpportunityEpisode) (int64, error) {
	const query = `
		INSERT INTO opportunities (
			window_id, asset, yes_ask, no_ask, combined,
			spread, best_spread, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		ep.WindowID, ep.Asset, ep.YesAsk, ep.NoAsk, ep.Combined,
		ep.Spread, ep.BestSpread, ep.DetectedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: open opportunity: %w", err)
	}
	return id, nil
}

// Resolve marks an episode finished, recording when the spread closed and the
// best spread seen while it was open.
func (s *OpportunityStore) Resolve(ctx context.Context, id int64, resolvedAt time.Time, bestSpread float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET resolved_at = $2, best_spread = $3 WHERE id = $1`,
		id, resolvedAt, bestSpread,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve opportunity %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent episodes, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityEpisode, error) {
	const query = `
		SELECT id, window_id, asset, yes_ask, no_ask, combined,
		       spread, best_spread, detected_at, resolved_at
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var eps []domain.OpportunityEpisode
	for rows.Next() {
		var ep domain.OpportunityEpisode
		if err := rows.Scan(
			&ep.ID, &ep.WindowID, &ep.Asset, &ep.YesAsk, &ep.NoAsk,
			&ep.Combined, &ep.Spread, &ep.BestSpread,
			&ep.DetectedAt, &ep.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		eps = append(eps, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return eps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
