package priceengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/store"
	"github.com/marketsim/tradingcore/pkg/types"
)

// PostgresRepository persists stock quotes and price history to the
// shared store. The price engine is the sole writer of both tables
// (§3 Ownership, §6 indexes on (price_history.symbol, timestamp)).
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "priceengine.repository").Logger()}
}

func (r *PostgresRepository) UpsertStock(ctx context.Context, q *types.Quote) error {
	const stmt = `
		INSERT INTO stocks (symbol, name, current_price, open_price, day_high, day_low, volume, updated_at)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			open_price    = EXCLUDED.open_price,
			day_high      = EXCLUDED.day_high,
			day_low       = EXCLUDED.day_low,
			volume        = EXCLUDED.volume,
			updated_at    = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, q.Symbol, q.Current, q.Open, q.High, q.Low, q.Volume, q.LastUpdated)
	if err != nil {
		return fmt.Errorf("upserting stock %s: %w", q.Symbol, err)
	}
	return nil
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, p types.PricePoint) error {
	const stmt = `INSERT INTO price_history (symbol, price, recorded_at) VALUES ($1, $2, $3)`
	if _, err := r.pool.Exec(ctx, stmt, p.Symbol, p.Price, p.Ts); err != nil {
		return fmt.Errorf("appending history for %s: %w", p.Symbol, err)
	}
	return nil
}

func (r *PostgresRepository) LoadStocks(ctx context.Context) (map[string]*types.Quote, error) {
	const q = `SELECT symbol, current_price, open_price, day_high, day_low, volume, updated_at FROM stocks`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("loading stocks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.Quote)
	for rows.Next() {
		var quote types.Quote
		if err := rows.Scan(&quote.Symbol, &quote.Current, &quote.Open, &quote.High, &quote.Low, &quote.Volume, &quote.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning stock row: %w", err)
		}
		out[quote.Symbol] = &quote
	}
	return out, rows.Err()
}

// History returns price history for symbol within [start, end],
// newest-first, capped at limit rows (0 means unlimited).
func (r *PostgresRepository) History(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error) {
	q := `
		SELECT symbol, price, recorded_at FROM price_history
		WHERE symbol = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at DESC`
	args := []any{symbol, start, end}
	if limit > 0 {
		q += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying price history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []types.PricePoint
	for rows.Next() {
		var p types.PricePoint
		if err := rows.Scan(&p.Symbol, &p.Price, &p.Ts); err != nil {
			return nil, fmt.Errorf("scanning price history row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
