package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elcapitan88/polybot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
// Inserts only; the schema has no update path on purpose.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a TradeRecordStore backed by the given pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `id, window_id, asset, outcome, yes_qty, no_qty,
	yes_price, no_price, cost_basis, unwind_price, realized_pnl,
	exposure_usd, note, created_at`

// Insert appends one terminal trade record.
func (s *TradeRecordStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, window_id, asset, outcome, yes_qty, no_qty,
			yes_price, no_price, cost_basis, unwind_price, realized_pnl,
			exposure_usd, note, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.WindowID, rec.Asset, string(rec.Outcome),
		rec.YesQty, rec.NoQty, rec.YesPrice, rec.NoPrice,
		rec.CostBasis, rec.UnwindPrice, rec.RealizedPnL,
		rec.ExposureUSD, rec.Note, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent trade records, newest first.
func (s *TradeRecordStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

// SumRealizedPnL returns the total realized PnL over records created at or
// after since. Used to rebuild the daily loss budget on startup.
func (s *TradeRecordStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(realized_pnl) FROM trade_records WHERE created_at >= $1`,
		since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			rec     domain.TradeRecord
			outcome string
		)
		if err := rows.Scan(
			&rec.ID, &rec.WindowID, &rec.Asset, &outcome,
			&rec.YesQty, &rec.NoQty, &rec.YesPrice, &rec.NoPrice,
			&rec.CostBasis, &rec.UnwindPrice, &rec.RealizedPnL,
			&rec.ExposureUSD, &rec.Note, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Outcome = domain.AttemptState(outcome)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
