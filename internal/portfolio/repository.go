package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/store"
	"github.com/marketsim/tradingcore/pkg/types"
)

// uniqueViolationCode is Postgres's error code for a unique-constraint
// violation, used to distinguish a genuine duplicate email (§4.4
// EMAIL_TAKEN) from any other insert failure.
const uniqueViolationCode = "23505"

// ErrDuplicateEmail is returned by InsertInvestor when the investors
// table's email uniqueness constraint rejects the row.
var ErrDuplicateEmail = errors.New("email already registered")

// PostgresRepository persists investors, holdings, and transactions to
// the shared store. The portfolio store is the sole writer of all three
// tables (§3 Ownership, §6 indexes).
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "portfolio.repository").Logger()}
}

func (r *PostgresRepository) InsertInvestor(ctx context.Context, inv *Investor) error {
	const q = `INSERT INTO investors (id, name, email, cash_balance, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, q, inv.ID, inv.Name, inv.Email, inv.Balance, inv.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting investor: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetInvestor(ctx context.Context, id uuid.UUID) (*Investor, error) {
	const q = `SELECT id, name, email, cash_balance, created_at FROM investors WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)

	var inv Investor
	if err := row.Scan(&inv.ID, &inv.Name, &inv.Email, &inv.Balance, &inv.CreatedAt); err != nil {
		return nil, fmt.Errorf("reading investor %s: %w", id, err)
	}
	return &inv, nil
}

func (r *PostgresRepository) UpdateBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	const q = `UPDATE investors SET cash_balance = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, newBalance); err != nil {
		return fmt.Errorf("updating balance for %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) GetHolding(ctx context.Context, investorID uuid.UUID, symbol string) (*Holding, error) {
	const q = `SELECT investor_id, symbol, quantity, avg_price FROM holdings WHERE investor_id = $1 AND symbol = $2`
	row := r.pool.QueryRow(ctx, q, investorID, symbol)

	var h Holding
	if err := row.Scan(&h.InvestorID, &h.Symbol, &h.Qty, &h.AvgPrice); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading holding %s/%s: %w", investorID, symbol, err)
	}
	return &h, nil
}

func (r *PostgresRepository) UpsertHolding(ctx context.Context, h *Holding) error {
	const q = `
		INSERT INTO holdings (investor_id, symbol, quantity, avg_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (investor_id, symbol) DO UPDATE SET quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price`
	if _, err := r.pool.Exec(ctx, q, h.InvestorID, h.Symbol, h.Qty, h.AvgPrice); err != nil {
		return fmt.Errorf("upserting holding %s/%s: %w", h.InvestorID, h.Symbol, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteHolding(ctx context.Context, investorID uuid.UUID, symbol string) error {
	const q = `DELETE FROM holdings WHERE investor_id = $1 AND symbol = $2`
	if _, err := r.pool.Exec(ctx, q, investorID, symbol); err != nil {
		return fmt.Errorf("deleting holding %s/%s: %w", investorID, symbol, err)
	}
	return nil
}

func (r *PostgresRepository) ListHoldings(ctx context.Context, investorID uuid.UUID) ([]*Holding, error) {
	const q = `SELECT investor_id, symbol, quantity, avg_price FROM holdings WHERE investor_id = $1`
	rows, err := r.pool.Query(ctx, q, investorID)
	if err != nil {
		return nil, fmt.Errorf("listing holdings for %s: %w", investorID, err)
	}
	defer rows.Close()

	var out []*Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.InvestorID, &h.Symbol, &h.Qty, &h.AvgPrice); err != nil {
			return nil, fmt.Errorf("scanning holding row: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx *Transaction) error {
	const q = `
		INSERT INTO transactions (id, investor_id, symbol, side, quantity, price, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.pool.Exec(ctx, q, tx.ID, tx.InvestorID, tx.Symbol, string(tx.Type), tx.Qty, tx.Price, tx.Ts); err != nil {
		return fmt.Errorf("inserting transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, investorID uuid.UUID, limit int, start, end time.Time) ([]*Transaction, error) {
	q := `
		SELECT id, investor_id, symbol, side, quantity, price, executed_at FROM transactions
		WHERE investor_id = $1 AND executed_at BETWEEN $2 AND $3
		ORDER BY executed_at DESC`
	args := []any{investorID, start, end}
	if limit > 0 {
		q += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions for %s: %w", investorID, err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var tx Transaction
		var side string
		if err := rows.Scan(&tx.ID, &tx.InvestorID, &tx.Symbol, &side, &tx.Qty, &tx.Price, &tx.Ts); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		tx.Type = types.Side(side)
		tx.Total = tx.Price.Mul(decimal.NewFromInt(tx.Qty))
		out = append(out, &tx)
	}
	return out, rows.Err()
}
