// Package market is the orchestration layer named in §2's data-flow
// diagram: it ties the matching engine to the portfolio store's
// pre-trade validation and exposes the §6 Market.* surface as plain Go
// methods (wire encoding was always an implementation choice, §6).
package market

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/pkg/types"
)

// State is the market-wide trading state (§6 GetMarketState/SetMarketState).
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
	StatePaused State = "PAUSED"
)

// Validator is the pre-trade check the matching engine never performs
// itself (§4.4 ValidateOrder): affordability for BUY, share
// availability for SELL.
type Validator interface {
	ValidateOrder(ctx context.Context, investorID uuid.UUID, symbol string, side types.Side, qty int64, price decimal.Decimal) error
}

// Engine is the subset of the matching engine the market layer drives.
type Engine interface {
	Admit(ctx context.Context, o *matching.Order) ([]*matching.Execution, error)
	Cancel(ctx context.Context, symbol string, orderID, investorID uuid.UUID) error
	GetOrderBook(ctx context.Context, symbol string) (bids, asks []matching.DepthLevel, err error)
}

// OrderLookup reads order state for GetOrderStatus (§6). Cross-owner
// reads are allowed (§5); the matching engine's repository is the only
// writer.
type OrderLookup interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*matching.OrderRow, error)
}

// DailyResetter freezes a new day's open/high/low at the current price
// on the market-open transition (§4.3 ResetDaily).
type DailyResetter interface {
	ResetDaily(ctx context.Context) error
}

// Market is the Market service: PlaceOrder validates then admits;
// everything downstream of a produced execution is the settlement
// coordinator's problem (§2).
type Market struct {
	engine    Engine
	validator Validator
	orders    OrderLookup
	prices    DailyResetter
	bus       *events.EventBus
	logger    zerolog.Logger

	mu    sync.RWMutex
	state State
}

// New builds a Market service, starting OPEN. prices may be nil in tests
// that don't care about the daily-reset side effect.
func New(engine Engine, validator Validator, orders OrderLookup, prices DailyResetter, bus *events.EventBus, logger zerolog.Logger) *Market {
	return &Market{
		engine:    engine,
		validator: validator,
		orders:    orders,
		prices:    prices,
		bus:       bus,
		logger:    logger.With().Str("component", "market").Logger(),
		state:     StateOpen,
	}
}

// PlaceOrder validates then admits an order (§6 Market.PlaceOrder).
// MARKET_CLOSED rejects synchronously before any state change (§7).
func (m *Market) PlaceOrder(ctx context.Context, investorID uuid.UUID, symbol string, side types.Side, qty int64, limitPrice decimal.Decimal) (orderID uuid.UUID, status types.OrderStatus, message string, err error) {
	if m.State() != StateOpen {
		return uuid.Nil, types.OrderStatusRejected, "market is not open", apperr.New(apperr.KindMarketClosed, "market is not open")
	}
	if qty <= 0 {
		return uuid.Nil, types.OrderStatusRejected, "quantity must be positive", apperr.New(apperr.KindValidation, "quantity must be positive")
	}
	if limitPrice.IsNegative() {
		return uuid.Nil, types.OrderStatusRejected, "limit price must not be negative", apperr.New(apperr.KindValidation, "limit price must not be negative")
	}

	if err := m.validator.ValidateOrder(ctx, investorID, symbol, side, qty, limitPrice); err != nil {
		return uuid.Nil, types.OrderStatusRejected, err.Error(), err
	}

	o := matching.NewOrder(investorID, symbol, side, qty, limitPrice)
	if _, err := m.engine.Admit(ctx, o); err != nil {
		return uuid.Nil, types.OrderStatusRejected, err.Error(), err
	}

	return o.ID, o.Status, "", nil
}

// CancelOrder cancels a resting order owned by investor (§6 Market.CancelOrder).
func (m *Market) CancelOrder(ctx context.Context, symbol string, orderID, investorID uuid.UUID) (bool, string) {
	if err := m.engine.Cancel(ctx, symbol, orderID, investorID); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// GetOrderStatus reads current order state (§6 Market.GetOrderStatus).
// avgPrice is the order's stored limit price (zero for a market order);
// fill prices are not recorded per order, so it is not averaged over fills.
func (m *Market) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (status types.OrderStatus, filled, remaining int64, avgPrice decimal.Decimal, err error) {
	row, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", 0, 0, decimal.Zero, apperr.Wrap(apperr.KindNotFound, "order not found", err)
	}
	return types.OrderStatus(row.Status), row.Filled, row.Qty - row.Filled, row.LimitPrice, nil
}

// GetOrderBook returns price-aggregated depth for symbol (§6 Market.GetOrderBook).
func (m *Market) GetOrderBook(ctx context.Context, symbol string) (bids, asks []matching.DepthLevel, err error) {
	return m.engine.GetOrderBook(ctx, symbol)
}

// State returns the current trading state.
func (m *Market) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetMarketState transitions the market-wide state (§6
// Market.SetMarketState). A transition into OPEN from any other state
// runs the daily reset (§4.3 ResetDaily) before the new state takes
// effect, so the first order admitted after the open sees a fresh
// open/high/low.
func (m *Market) SetMarketState(ctx context.Context, state State) error {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.mu.Unlock()

	if state == StateOpen && prev != StateOpen && m.prices != nil {
		if err := m.prices.ResetDaily(ctx); err != nil {
			m.logger.Error().Err(err).Msg("daily price reset failed on market open")
			return err
		}
	}
	return nil
}

// StreamMarketEvents subscribes to order-related events, optionally
// scoped to symbols (empty = all symbols). Cancellation is via ctx, per
// §5 "streaming subscriptions terminate cleanly on client cancellation"
// — cancelling ctx unsubscribes from the bus, which releases the
// subscriber slot and closes the returned channel.
func (m *Market) StreamMarketEvents(ctx context.Context, symbols []string) <-chan events.Event {
	raw := m.bus.Subscribe(events.EventOrderPlaced, events.EventOrderExecuted, events.EventOrderCanceled)
	if len(symbols) == 0 {
		go func() {
			<-ctx.Done()
			m.bus.Unsubscribe(raw)
		}()
		return raw
	}

	filter := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		filter[s] = struct{}{}
	}

	out := make(chan events.Event, 1024)
	go func() {
		defer close(out)
		defer m.bus.Unsubscribe(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if symbolOf(ev, filter) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func symbolOf(ev events.Event, filter map[string]struct{}) bool {
	var symbol string
	switch e := ev.(type) {
	case *events.OrderPlacedEvent:
		symbol = e.Symbol
	case *events.OrderExecutedEvent:
		symbol = e.Symbol
	case *events.OrderCanceledEvent:
		symbol = e.Symbol
	default:
		return true
	}
	_, ok := filter[symbol]
	return ok
}
