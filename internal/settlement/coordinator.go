// Package settlement is the Settlement Coordinator (§4.2): for every
// execution the matching engine produces, it mutates buyer/seller cash
// and holdings, nudges the price engine, records analytics, and
// publishes ORDER_EXECUTED — all before the owning symbol worker admits
// its next command (§4.2, §5).
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/internal/metrics"
)

// PortfolioApplier is the slice of the Portfolio Store settlement needs:
// apply one trade leg to cash/holdings (§4.4).
type PortfolioApplier interface {
	ApplyTrade(ctx context.Context, investorID uuid.UUID, symbol string, signedQty int64, price decimal.Decimal, txID uuid.UUID) error
}

// PriceApplier nudges a symbol's price (§4.3).
type PriceApplier interface {
	Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impactFactor float64) error
}

// AnalyticsRecorder records a settled trade from both counterparties'
// perspectives (§4.6).
type AnalyticsRecorder interface {
	Record(ctx context.Context, exec *matching.Execution) error
}

// Repository persists settlement outcomes (executions table, §3/§6).
type Repository interface {
	SaveExecution(ctx context.Context, exec *matching.Execution) error
	MarkFailed(ctx context.Context, exec *matching.Execution, reason string) error
}

// Coordinator is the Settlement Coordinator (§4.2).
type Coordinator struct {
	portfolio PortfolioApplier
	prices    PriceApplier
	analytics AnalyticsRecorder
	repo      Repository
	bus       *events.EventBus
	metrics   *metrics.TradingMetrics
	logger    zerolog.Logger

	group   singleflight.Group
	settled sync.Map // execution id -> struct{}, once settle succeeded
}

// New builds a Settlement Coordinator. Idempotency across retried calls
// for the same execution id is provided by singleflight (§4a) plus a
// record of executions already settled, so an at-least-once caller
// collapses onto the in-flight or already-completed attempt rather than
// double-applying the trade.
func New(portfolio PortfolioApplier, prices PriceApplier, analytics AnalyticsRecorder, repo Repository, bus *events.EventBus, m *metrics.TradingMetrics, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		portfolio: portfolio,
		prices:    prices,
		analytics: analytics,
		repo:      repo,
		bus:       bus,
		metrics:   m,
		logger:    logger.With().Str("component", "settlement").Logger(),
	}
}

// Settle applies every downstream effect of one execution (§4.2 steps
// 1-5), wrapped in singleflight keyed on the execution id and checked
// against the ids already settled, so a retry of the same execution id is
// a no-op past the first successful attempt.
func (c *Coordinator) Settle(ctx context.Context, exec *matching.Execution) error {
	key := exec.ID.String()
	if _, done := c.settled.Load(key); done {
		return nil
	}
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		if _, done := c.settled.Load(key); done {
			return nil, nil
		}
		if err := c.settle(ctx, exec); err != nil {
			return nil, err
		}
		c.settled.Store(key, struct{}{})
		return nil, nil
	})
	if err != nil && c.metrics != nil {
		c.metrics.SettlementsTotal.WithLabelValues("failed").Inc()
	} else if c.metrics != nil {
		c.metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	}
	return err
}

func (c *Coordinator) settle(ctx context.Context, exec *matching.Execution) error {
	// Step 1: buyer leg — cash decreases, holding increases, weighted avg.
	if err := c.portfolio.ApplyTrade(ctx, exec.BuyerID, exec.Symbol, exec.Qty, exec.Price, buyTxID(exec.ID)); err != nil {
		return c.fail(ctx, exec, "buyer leg", err)
	}

	// Step 2: seller leg — cash increases, holding decreases/deleted.
	if err := c.portfolio.ApplyTrade(ctx, exec.SellerID, exec.Symbol, -exec.Qty, exec.Price, sellTxID(exec.ID)); err != nil {
		return c.fail(ctx, exec, "seller leg", err)
	}

	// Step 3: price impact, aggressor rule selects direction (§4.2).
	if err := c.prices.Apply(ctx, exec.Symbol, exec.Qty, exec.AggressorIsBuy, 1.0); err != nil {
		c.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("price apply failed after legs committed")
	}

	// Step 4: analytics, both perspectives.
	if err := c.analytics.Record(ctx, exec); err != nil {
		c.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("analytics record failed after legs committed")
	}

	// Persist the execution record itself.
	if err := c.repo.SaveExecution(ctx, exec); err != nil {
		c.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("saving execution record failed")
	}

	// Step 5: publish ORDER_EXECUTED once per counterparty.
	c.bus.Publish(events.NewOrderExecutedEvent(exec.ID, exec.BuyOrderID, exec.Symbol, exec.Price, exec.Qty, 0))
	c.bus.Publish(events.NewOrderExecutedEvent(exec.ID, exec.SellOrderID, exec.Symbol, exec.Price, exec.Qty, 0))

	return nil
}

// fail marks the execution SETTLEMENT_FAILED and emits a compensation
// event (§4.2 Atomicity, §7). The two legs of one execution are
// expected to both succeed or both fail under normal operation since
// ValidateOrder checks affordability before PlaceOrder ever reaches the
// matching engine (§4.4 ValidateOrder); a failure here means a
// cross-store divergence the operator must repair by hand, not a retry
// candidate (§4.2).
func (c *Coordinator) fail(ctx context.Context, exec *matching.Execution, stage string, cause error) error {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	if err := c.repo.MarkFailed(ctx, exec, reason); err != nil {
		c.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("failed to record SETTLEMENT_FAILED")
	}
	c.bus.Publish(events.NewOrderExecutedEvent(exec.ID, exec.BuyOrderID, exec.Symbol, exec.Price, 0, exec.Qty))
	return apperr.Wrap(apperr.KindSettlementFailed, reason, cause)
}

// buyTxID/sellTxID derive stable, distinct transaction ids for the two
// legs of one execution from the execution id, so a repeated leg carries
// the same transaction id and the transactions table's primary key
// rejects its second insert.
func buyTxID(execID uuid.UUID) uuid.UUID  { return uuid.NewSHA1(execID, []byte("buy")) }
func sellTxID(execID uuid.UUID) uuid.UUID { return uuid.NewSHA1(execID, []byte("sell")) }
