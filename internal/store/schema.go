package store

import (
	"context"
	"fmt"
)

// InitSchema creates every table the trading core needs, each owned
// exclusively by the component named in its comment (only that
// component ever writes to it; every other component may read it
// directly for joins/reporting, per the per-owner table exclusivity
// rule).
func (p *Pool) InitSchema(ctx context.Context) error {
	statements := []string{
		// owned by internal/matching
		`CREATE TABLE IF NOT EXISTS orders (
			id             UUID PRIMARY KEY,
			investor_id    UUID NOT NULL,
			symbol         TEXT NOT NULL,
			side           TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
			type           TEXT NOT NULL CHECK (type IN ('LIMIT', 'MARKET')),
			limit_price    NUMERIC(20, 6) NOT NULL DEFAULT 0,
			quantity       BIGINT NOT NULL CHECK (quantity > 0),
			filled_qty     BIGINT NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_investor_status ON orders (investor_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status)`,

		// owned by internal/settlement
		`CREATE TABLE IF NOT EXISTS executions (
			id             UUID PRIMARY KEY,
			symbol         TEXT NOT NULL,
			buy_order_id   UUID NOT NULL,
			sell_order_id  UUID NOT NULL,
			price          NUMERIC(20, 6) NOT NULL,
			quantity       BIGINT NOT NULL CHECK (quantity > 0),
			executed_at    TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL DEFAULT 'SETTLED',
			failure_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_symbol_time ON executions (symbol, executed_at)`,

		// owned by internal/portfolio
		`CREATE TABLE IF NOT EXISTS investors (
			id             UUID PRIMARY KEY,
			name           TEXT NOT NULL,
			email          TEXT NOT NULL UNIQUE,
			cash_balance   NUMERIC(20, 6) NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			investor_id    UUID NOT NULL REFERENCES investors (id),
			symbol         TEXT NOT NULL,
			quantity       BIGINT NOT NULL DEFAULT 0,
			avg_price      NUMERIC(20, 6) NOT NULL DEFAULT 0,
			PRIMARY KEY (investor_id, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_holdings_investor ON holdings (investor_id)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id            UUID PRIMARY KEY,
			investor_id   UUID NOT NULL REFERENCES investors (id),
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
			quantity      BIGINT NOT NULL,
			price         NUMERIC(20, 6) NOT NULL,
			executed_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_investor_time ON transactions (investor_id, executed_at)`,

		// owned by internal/priceengine
		`CREATE TABLE IF NOT EXISTS stocks (
			symbol         TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			current_price  NUMERIC(20, 6) NOT NULL,
			open_price     NUMERIC(20, 6) NOT NULL,
			day_high       NUMERIC(20, 6) NOT NULL,
			day_low        NUMERIC(20, 6) NOT NULL,
			volume         BIGINT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			symbol     TEXT NOT NULL,
			price      NUMERIC(20, 6) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_symbol_time ON price_history (symbol, recorded_at)`,

		// owned by internal/analytics
		`CREATE TABLE IF NOT EXISTS analytics_trades (
			id           UUID PRIMARY KEY,
			symbol       TEXT NOT NULL,
			buyer_id     UUID NOT NULL,
			seller_id    UUID NOT NULL,
			quantity     BIGINT NOT NULL,
			price        NUMERIC(20, 6) NOT NULL,
			executed_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_trades_symbol_time ON analytics_trades (symbol, executed_at)`,

		// owned by internal/webhook
		`CREATE TABLE IF NOT EXISTS webhooks (
			id           UUID PRIMARY KEY,
			url          TEXT NOT NULL,
			event_types  TEXT[] NOT NULL,
			secret       TEXT NOT NULL,
			active       BOOLEAN NOT NULL DEFAULT true,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}

	return nil
}
