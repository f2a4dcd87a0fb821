// Package types holds value types shared across component boundaries so
// that no package needs to import another component's internals just to
// describe data that crosses between them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order or a settled leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes a resting limit order from a market order.
// A market order carries a zero LimitPrice by convention (§3).
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the lifecycle state of an order (§3).
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status can never transition again (§3, §8).
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Quote is a read-only snapshot of a symbol's current pricing state.
type Quote struct {
	Symbol      string
	Current     decimal.Decimal
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Volume      int64
	LastUpdated time.Time
}

// PricePoint is one entry in a symbol's price history (§3, §4.3).
type PricePoint struct {
	Symbol string
	Price  decimal.Decimal
	Ts     time.Time
}
