package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/store"
)

// PostgresRepository persists the append-only analytics_trades table.
// Analytics is the sole writer (§3 Ownership, §6 index on (symbol,
// timestamp)).
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "analytics.repository").Logger()}
}

func (r *PostgresRepository) InsertTrade(ctx context.Context, t *Trade) error {
	const q = `
		INSERT INTO analytics_trades (id, symbol, buyer_id, seller_id, quantity, price, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, t.ID, t.Symbol, t.BuyerID, t.SellerID, t.Qty, t.Price, t.Ts); err != nil {
		return fmt.Errorf("inserting trade %s: %w", t.ID, err)
	}
	return nil
}

func (r *PostgresRepository) TradesInWindow(ctx context.Context, since time.Time) ([]*Trade, error) {
	const q = `SELECT id, symbol, buyer_id, seller_id, quantity, price, executed_at FROM analytics_trades WHERE executed_at >= $1`
	return r.query(ctx, q, since)
}

func (r *PostgresRepository) TradesForSymbol(ctx context.Context, symbol string, since time.Time) ([]*Trade, error) {
	const q = `SELECT id, symbol, buyer_id, seller_id, quantity, price, executed_at FROM analytics_trades WHERE symbol = $1 AND executed_at >= $2`
	return r.query(ctx, q, symbol, since)
}

func (r *PostgresRepository) TradesForInvestor(ctx context.Context, investorID uuid.UUID) ([]*Trade, error) {
	const q = `
		SELECT id, symbol, buyer_id, seller_id, quantity, price, executed_at FROM analytics_trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY executed_at ASC`
	return r.query(ctx, q, investorID)
}

func (r *PostgresRepository) TradesInRange(ctx context.Context, symbol string, start, end time.Time) ([]*Trade, error) {
	const q = `
		SELECT id, symbol, buyer_id, seller_id, quantity, price, executed_at FROM analytics_trades
		WHERE symbol = $1 AND executed_at BETWEEN $2 AND $3
		ORDER BY executed_at ASC`
	return r.query(ctx, q, symbol, start, end)
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*Trade, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analytics trades: %w", err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.BuyerID, &t.SellerID, &t.Qty, &t.Price, &t.Ts); err != nil {
			return nil, fmt.Errorf("scanning analytics trade row: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
