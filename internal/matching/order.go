// Package matching implements the price-time priority order book and
// the per-symbol serialization that drives every trade in the system.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/pkg/types"
)

// Order is a single resting or fully-processed order. The matching
// engine is its sole owner for as long as it is not terminal.
type Order struct {
	ID         uuid.UUID
	InvestorID uuid.UUID
	Symbol     string
	Side       types.Side
	LimitPrice decimal.Decimal // zero means market order
	Qty        int64
	Filled     int64
	Status     types.OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// seq is the engine-assigned arrival sequence. isBuyAggressor compares
	// it to tell which side of a match arrived later; time priority within
	// a price level comes from the level's FIFO list, not from seq.
	seq uint64
}

// NewOrder builds a PENDING order ready for admission.
func NewOrder(investorID uuid.UUID, symbol string, side types.Side, qty int64, limitPrice decimal.Decimal) *Order {
	now := time.Now()
	return &Order{
		ID:         uuid.New(),
		InvestorID: investorID,
		Symbol:     symbol,
		Side:       side,
		LimitPrice: limitPrice,
		Qty:        qty,
		Status:     types.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsMarket reports whether the order has no limit price (§3).
func (o *Order) IsMarket() bool { return o.LimitPrice.IsZero() }

// Type returns the order's OrderType, derived from LimitPrice.
func (o *Order) Type() types.OrderType {
	if o.IsMarket() {
		return types.OrderTypeMarket
	}
	return types.OrderTypeLimit
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// applyFill records a fill of qty shares and recomputes status (§3
// invariants: FILLED iff filled = qty, PARTIALLY_FILLED iff 0<filled<qty).
func (o *Order) applyFill(qty int64) {
	o.Filled += qty
	o.UpdatedAt = time.Now()
	switch {
	case o.Filled >= o.Qty:
		o.Status = types.OrderStatusFilled
	case o.Filled > 0:
		o.Status = types.OrderStatusPartiallyFilled
	}
}

// Execution is an immutable record of one match between two orders.
type Execution struct {
	ID         uuid.UUID
	Symbol     string
	BuyOrderID uuid.UUID
	SellOrderID uuid.UUID
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	Qty        int64
	Price      decimal.Decimal
	// AggressorIsBuy records which side caused the match, per the
	// aggressor rule in §4.2: a market order is always the aggressor;
	// otherwise the later-arrived order is.
	AggressorIsBuy bool
	Ts             time.Time
}
