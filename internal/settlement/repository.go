package settlement

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/internal/store"
)

// PostgresRepository persists executions to the shared store. Settlement
// is the sole writer of the executions table (§3 Ownership).
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "settlement.repository").Logger()}
}

func (r *PostgresRepository) SaveExecution(ctx context.Context, exec *matching.Execution) error {
	const q = `
		INSERT INTO executions (id, symbol, buy_order_id, sell_order_id, price, quantity, executed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'SETTLED')
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, exec.ID, exec.Symbol, exec.BuyOrderID, exec.SellOrderID, exec.Price, exec.Qty, exec.Ts); err != nil {
		return fmt.Errorf("saving execution %s: %w", exec.ID, err)
	}
	return nil
}

// MarkFailed records an execution that could not be fully settled, for
// operator repair (§4.2 Atomicity, §7 SETTLEMENT_FAILED). The full
// execution is written (it was never saved by SaveExecution, since the
// failure happened before that step) with status SETTLEMENT_FAILED.
func (r *PostgresRepository) MarkFailed(ctx context.Context, exec *matching.Execution, reason string) error {
	const q = `
		INSERT INTO executions (id, symbol, buy_order_id, sell_order_id, price, quantity, executed_at, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'SETTLEMENT_FAILED', $8)
		ON CONFLICT (id) DO UPDATE SET status = 'SETTLEMENT_FAILED', failure_reason = $8`
	if _, err := r.pool.Exec(ctx, q, exec.ID, exec.Symbol, exec.BuyOrderID, exec.SellOrderID, exec.Price, exec.Qty, exec.Ts, reason); err != nil {
		return fmt.Errorf("marking execution %s failed: %w", exec.ID, err)
	}
	return nil
}
