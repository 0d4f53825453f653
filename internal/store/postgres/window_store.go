package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elcapitan88/polybot/internal/domain"
)

// WindowStore implements domain.WindowStore using PostgreSQL.
type WindowStore struct {
	pool *pgxpool.Pool
}

// NewWindowStore creates a WindowStore backed by the given pool.
func NewWindowStore(pool *pgxpool.Pool) *WindowStore {
	return &WindowStore{pool: pool}
}

const windowCols = `id, asset, slug, question, yes_token_id, no_token_id,
	open_time, close_time, status`

// Upsert inserts or refreshes a discovered window. Discovery re-reads the
// venue on an interval, so the same window arrives repeatedly.
func (s *WindowStore) Upsert(ctx context.Context, w domain.MarketWindow) error {
	const query = `
		INSERT INTO market_windows (
			id, asset, slug, question, yes_token_id, no_token_id,
			open_time, close_time, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			question   = EXCLUDED.question,
			close_time = EXCLUDED.close_time,
			status     = EXCLUDED.status,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		w.ID, w.Asset, w.Slug, w.Question, w.YesTokenID, w.NoTokenID,
		w.OpenTime, w.CloseTime, string(w.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert window %s: %w", w.ID, err)
	}
	return nil
}

// UpdateStatus moves a window through its lifecycle.
func (s *WindowStore) UpdateStatus(ctx context.Context, id string, status domain.WindowStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_windows SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update window status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches one window. Returns domain.ErrNotFound when absent.
func (s *WindowStore) GetByID(ctx context.Context, id string) (domain.MarketWindow, error) {
	query := `SELECT ` + windowCols + ` FROM market_windows WHERE id = $1`

	w, err := scanWindow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketWindow{}, domain.ErrNotFound
		}
		return domain.MarketWindow{}, fmt.Errorf("postgres: get window %s: %w", id, err)
	}
	return w, nil
}

// ListActive returns windows that have not yet settled, soonest close first.
func (s *WindowStore) ListActive(ctx context.Context) ([]domain.MarketWindow, error) {
	query := `SELECT ` + windowCols + ` FROM market_windows
		WHERE status IN ('pending', 'open', 'closing')
		ORDER BY close_time ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active windows: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan window: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active windows: %w", err)
	}
	return out, nil
}

func scanWindow(row pgx.Row) (domain.MarketWindow, error) {
	var (
		w      domain.MarketWindow
		status string
	)
	if err := row.Scan(
		&w.ID, &w.Asset, &w.Slug, &w.Question,
		&w.YesTokenID, &w.NoTokenID,
		&w.OpenTime, &w.CloseTime, &status,
	); err != nil {
		return domain.MarketWindow{}, err
	}
	w.Status = domain.WindowStatus(status)
	return w, nil
}

// Compile-time interface check.
var _ domain.WindowStore = (*WindowStore)(nil)
