package matching

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/store"
)

// PostgresRepository persists order state to the shared store's orders
// table. The matching engine is its sole writer (§3 Ownership, §9 open
// question #2) — every status transition is written synchronously
// inside the same symbol-worker call that mutated the in-memory order,
// so the store can never diverge from the book the way the teacher's
// original copy-on-cancel bug allowed.
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

// NewPostgresRepository builds a Repository backed by the shared store.
func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "matching.repository").Logger()}
}

// SaveOrder inserts a freshly admitted order. A duplicate id is a CONFLICT,
// not silently ignored, matching §8's "PlaceOrder with an already-used
// orderId must not double-insert."
func (r *PostgresRepository) SaveOrder(ctx context.Context, o *Order) error {
	const q = `
		INSERT INTO orders (id, investor_id, symbol, side, type, limit_price, quantity, filled_qty, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, q,
		o.ID, o.InvestorID, o.Symbol, string(o.Side), string(o.Type()), o.LimitPrice,
		o.Qty, o.Filled, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	return nil
}

// UpdateOrder persists filled/status/updated_at after a fill or cancel.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *Order) error {
	const q = `
		UPDATE orders SET filled_qty = $2, status = $3, updated_at = $4
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, q, o.ID, o.Filled, string(o.Status), o.UpdatedAt); err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	return nil
}

// OrderRow is a read-only projection of one orders row, used by callers
// (the market orchestrator, GetOrderStatus) that need order state
// without going through the owning symbol worker.
type OrderRow struct {
	ID         uuid.UUID
	InvestorID uuid.UUID
	Symbol     string
	Side       string
	Qty        int64
	Filled     int64
	Status     string
	LimitPrice decimal.Decimal
}

// GetOrder reads one order row directly from the store. Cross-owner
// reads are allowed (§5); only writes are restricted to the owner.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*OrderRow, error) {
	const q = `SELECT id, investor_id, symbol, side, quantity, filled_qty, status, limit_price FROM orders WHERE id = $1`

	row := r.pool.QueryRow(ctx, q, id)
	var out OrderRow
	if err := row.Scan(&out.ID, &out.InvestorID, &out.Symbol, &out.Side, &out.Qty, &out.Filled, &out.Status, &out.LimitPrice); err != nil {
		return nil, fmt.Errorf("reading order %s: %w", id, err)
	}
	return &out, nil
}
