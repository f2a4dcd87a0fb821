package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies the kind of an Event. This is the closed set of
// events components may publish or subscribe to; OVERFLOW is never
// published by a component — the bus itself synthesizes it as the last
// thing a dropped subscriber ever receives.
type EventType string

const (
	EventOrderPlaced         EventType = "ORDER_PLACED"
	EventOrderExecuted       EventType = "ORDER_EXECUTED"
	EventOrderCanceled       EventType = "ORDER_CANCELED"
	EventPriceUpdate         EventType = "PRICE_UPDATE"
	EventPriceAlert          EventType = "PRICE_ALERT"
	EventBalanceUpdated      EventType = "BALANCE_UPDATED"
	EventNewTransaction      EventType = "NEW_TRANSACTION"
	EventTopStocksUpdated    EventType = "TOP_STOCKS_UPDATED"
	EventPredictionAvailable EventType = "PREDICTION_AVAILABLE"
	EventOverflow            EventType = "OVERFLOW"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// OrderPlacedEvent fires when an order is admitted to a symbol's book.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID    uuid.UUID
	InvestorID uuid.UUID
	Symbol     string
	Side       string
	Quantity   int64
	LimitPrice decimal.Decimal
}

func NewOrderPlacedEvent(orderID, investorID uuid.UUID, symbol, side string, qty int64, limitPrice decimal.Decimal) *OrderPlacedEvent {
	return &OrderPlacedEvent{
		BaseEvent:  newBase(EventOrderPlaced),
		OrderID:    orderID,
		InvestorID: investorID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limitPrice,
	}
}

// OrderExecutedEvent fires once per execution leg an order participates in.
type OrderExecutedEvent struct {
	BaseEvent
	ExecutionID uuid.UUID
	OrderID     uuid.UUID
	Symbol      string
	Price       decimal.Decimal
	Quantity    int64
	Remaining   int64
}

func NewOrderExecutedEvent(executionID, orderID uuid.UUID, symbol string, price decimal.Decimal, qty, remaining int64) *OrderExecutedEvent {
	return &OrderExecutedEvent{
		BaseEvent:   newBase(EventOrderExecuted),
		ExecutionID: executionID,
		OrderID:     orderID,
		Symbol:      symbol,
		Price:       price,
		Quantity:    qty,
		Remaining:   remaining,
	}
}

// OrderCanceledEvent fires when a resting order is pulled from the book.
type OrderCanceledEvent struct {
	BaseEvent
	OrderID uuid.UUID
	Symbol  string
}

func NewOrderCanceledEvent(orderID uuid.UUID, symbol string) *OrderCanceledEvent {
	return &OrderCanceledEvent{BaseEvent: newBase(EventOrderCanceled), OrderID: orderID, Symbol: symbol}
}

// PriceUpdateEvent fires every time the price engine moves a symbol's price.
type PriceUpdateEvent struct {
	BaseEvent
	Symbol   string
	Price    decimal.Decimal
	Previous decimal.Decimal
}

func NewPriceUpdateEvent(symbol string, price, previous decimal.Decimal) *PriceUpdateEvent {
	return &PriceUpdateEvent{BaseEvent: newBase(EventPriceUpdate), Symbol: symbol, Price: price, Previous: previous}
}

// PriceAlertEvent carries a symbol's price and its percentage change.
// No component in this module publishes it, and there is no alert
// threshold setting.
type PriceAlertEvent struct {
	BaseEvent
	Symbol    string
	Price     decimal.Decimal
	ChangePct decimal.Decimal
}

func NewPriceAlertEvent(symbol string, price, changePct decimal.Decimal) *PriceAlertEvent {
	return &PriceAlertEvent{BaseEvent: newBase(EventPriceAlert), Symbol: symbol, Price: price, ChangePct: changePct}
}

// BalanceUpdatedEvent fires whenever an investor's cash balance changes.
type BalanceUpdatedEvent struct {
	BaseEvent
	InvestorID uuid.UUID
	NewBalance decimal.Decimal
}

func NewBalanceUpdatedEvent(investorID uuid.UUID, newBalance decimal.Decimal) *BalanceUpdatedEvent {
	return &BalanceUpdatedEvent{BaseEvent: newBase(EventBalanceUpdated), InvestorID: investorID, NewBalance: newBalance}
}

// NewTransactionEvent fires whenever a settled trade is appended to an
// investor's transaction history.
type NewTransactionEvent struct {
	BaseEvent
	TransactionID uuid.UUID
	InvestorID    uuid.UUID
	Symbol        string
	Side          string
	Quantity      int64
	Price         decimal.Decimal
}

func NewNewTransactionEvent(id, investorID uuid.UUID, symbol, side string, qty int64, price decimal.Decimal) *NewTransactionEvent {
	return &NewTransactionEvent{
		BaseEvent:     newBase(EventNewTransaction),
		TransactionID: id,
		InvestorID:    investorID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
	}
}

// TopStocksUpdatedEvent fires when analytics recomputes the most-traded
// symbol ranking.
type TopStocksUpdatedEvent struct {
	BaseEvent
	Symbols []string
}

func NewTopStocksUpdatedEvent(symbols []string) *TopStocksUpdatedEvent {
	return &TopStocksUpdatedEvent{BaseEvent: newBase(EventTopStocksUpdated), Symbols: symbols}
}

// PredictionAvailableEvent fires when analytics produces a new price
// prediction for a symbol.
type PredictionAvailableEvent struct {
	BaseEvent
	Symbol    string
	Predicted decimal.Decimal
}

func NewPredictionAvailableEvent(symbol string, predicted decimal.Decimal) *PredictionAvailableEvent {
	return &PredictionAvailableEvent{BaseEvent: newBase(EventPredictionAvailable), Symbol: symbol, Predicted: predicted}
}

// OverflowEvent is the terminal event a subscriber receives, best-effort,
// the moment its queue overflows and the bus evicts it. No further event
// follows; the channel is closed immediately after.
type OverflowEvent struct {
	BaseEvent
	Reason string
}

func newOverflowEvent(reason string) *OverflowEvent {
	return &OverflowEvent{BaseEvent: newBase(EventOverflow), Reason: reason}
}
