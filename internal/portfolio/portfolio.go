// Package portfolio is the Portfolio Store (§4.4): the exclusive owner
// of investors, holdings, and transactions. Every write touching one
// investor row, or one (investor, symbol) holding, is serialized by a
// striped lock keyed on investor id (§5) — reads proceed concurrently.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/pkg/types"
)

// Investor is one account in the simulation (§3).
type Investor struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Holding is one (investor, symbol) position (§3). Deleted from the
// store entirely once Qty reaches zero.
type Holding struct {
	InvestorID uuid.UUID
	Symbol     string
	Qty        int64
	AvgPrice   decimal.Decimal
}

// Transaction is an append-only record of one settled leg (§3).
type Transaction struct {
	ID         uuid.UUID
	InvestorID uuid.UUID
	Symbol     string
	Type       types.Side
	Qty        int64
	Price      decimal.Decimal
	Total      decimal.Decimal
	Ts         time.Time
}

// PortfolioEntry decorates a Holding with live valuation for
// GetPortfolio (§4.4).
type PortfolioEntry struct {
	Holding
	CurrentValue decimal.Decimal
	ProfitLoss   decimal.Decimal
}

// Repository persists investors, holdings, and transactions. The
// portfolio store is its sole writer (§3 Ownership).
type Repository interface {
	InsertInvestor(ctx context.Context, inv *Investor) error
	GetInvestor(ctx context.Context, id uuid.UUID) (*Investor, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error
	GetHolding(ctx context.Context, investorID uuid.UUID, symbol string) (*Holding, error)
	UpsertHolding(ctx context.Context, h *Holding) error
	DeleteHolding(ctx context.Context, investorID uuid.UUID, symbol string) error
	ListHoldings(ctx context.Context, investorID uuid.UUID) ([]*Holding, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, investorID uuid.UUID, limit int, start, end time.Time) ([]*Transaction, error)
}

const shardCount = 64

// Store is the Portfolio Store (§4.4).
type Store struct {
	repo   Repository
	bus    *events.EventBus
	logger zerolog.Logger

	shards [shardCount]sync.Mutex
}

// New builds a Portfolio Store over repo.
func New(repo Repository, bus *events.EventBus, logger zerolog.Logger) *Store {
	return &Store{repo: repo, bus: bus, logger: logger.With().Str("component", "portfolio").Logger()}
}

// shard returns the striped lock for id, serializing every write that
// touches id's investor row or (id, symbol) holdings (§5).
func (s *Store) shard(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &s.shards[h.Sum32()%shardCount]
}

// Register creates a new investor, failing with CONFLICT on a duplicate
// email (§4.4).
func (s *Store) Register(ctx context.Context, name, email string, initialBalance decimal.Decimal) (uuid.UUID, error) {
	inv := &Investor{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Balance:   initialBalance,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertInvestor(ctx, inv); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return uuid.Nil, apperr.Wrap(apperr.KindConflict, "EMAIL_TAKEN", err)
		}
		return uuid.Nil, apperr.Wrap(apperr.KindInternal, "persisting investor", err)
	}
	return inv.ID, nil
}

// Get returns the investor record for id, or NOT_FOUND.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Investor, error) {
	inv, err := s.repo.GetInvestor(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("investor %s", id), err)
	}
	return inv, nil
}

// AdjustBalance applies a signed cash delta, failing with
// INSUFFICIENT_FUNDS if the result would be negative (§4.4).
func (s *Store) AdjustBalance(ctx context.Context, id uuid.UUID, signedAmount decimal.Decimal, reason string) error {
	mu := s.shard(id)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.repo.GetInvestor(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("investor %s", id), err)
	}

	next := inv.Balance.Add(signedAmount)
	if next.IsNegative() {
		return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("balance %s + %s would go negative (%s)", inv.Balance, signedAmount, reason))
	}

	if err := s.repo.UpdateBalance(ctx, id, next); err != nil {
		return apperr.Wrap(apperr.KindInternal, "persisting balance", err)
	}

	s.bus.Publish(events.NewBalanceUpdatedEvent(id, next))
	return nil
}

// ValidateOrder is the pre-trade check (§4.4): never mutates state.
func (s *Store) ValidateOrder(ctx context.Context, investorID uuid.UUID, symbol string, side types.Side, qty int64, price decimal.Decimal) error {
	inv, err := s.repo.GetInvestor(ctx, investorID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("investor %s", investorID), err)
	}

	if side == types.SideBuy {
		cost := price.Mul(decimal.NewFromInt(qty))
		if inv.Balance.LessThan(cost) {
			return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("balance %s < required %s", inv.Balance, cost))
		}
		return nil
	}

	h, err := s.repo.GetHolding(ctx, investorID, symbol)
	if err != nil || h == nil || h.Qty < qty {
		return apperr.New(apperr.KindInsufficientShares, fmt.Sprintf("insufficient %s shares for investor %s", symbol, investorID))
	}
	return nil
}

// ApplyTrade applies one settled leg to an investor's cash and holding,
// appends a Transaction, and publishes BALANCE_UPDATED/NEW_TRANSACTION
// (§4.4, §4.2 weighted-average rule). signedQty is positive for a BUY
// leg, negative for a SELL leg; signedCash mirrors the direction on
// balance (negative for BUY, positive for SELL).
func (s *Store) ApplyTrade(ctx context.Context, investorID uuid.UUID, symbol string, signedQty int64, price decimal.Decimal, txID uuid.UUID) error {
	mu := s.shard(investorID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.repo.GetInvestor(ctx, investorID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("investor %s", investorID), err)
	}

	side := types.SideBuy
	if signedQty < 0 {
		side = types.SideSell
	}
	signedCash := price.Mul(decimal.NewFromInt(signedQty)).Neg()

	holding, err := s.repo.GetHolding(ctx, investorID, symbol)
	if err != nil {
		holding = nil
	}

	switch {
	case signedQty > 0:
		newBalance := inv.Balance.Add(signedCash)
		if newBalance.IsNegative() {
			return apperr.New(apperr.KindInsufficientFunds, fmt.Sprintf("investor %s cannot afford buy", investorID))
		}
		holding = upsertBuy(holding, investorID, symbol, signedQty, price)
		if err := s.repo.UpsertHolding(ctx, holding); err != nil {
			return apperr.Wrap(apperr.KindInternal, "upserting holding", err)
		}
		if err := s.repo.UpdateBalance(ctx, investorID, newBalance); err != nil {
			return apperr.Wrap(apperr.KindInternal, "updating balance", err)
		}
		s.bus.Publish(events.NewBalanceUpdatedEvent(investorID, newBalance))

	case signedQty < 0:
		sellQty := -signedQty
		if holding == nil || holding.Qty < sellQty {
			return apperr.New(apperr.KindInsufficientShares, fmt.Sprintf("investor %s holds too few %s shares", investorID, symbol))
		}
		newBalance := inv.Balance.Add(signedCash)
		holding.Qty -= sellQty
		if holding.Qty == 0 {
			if err := s.repo.DeleteHolding(ctx, investorID, symbol); err != nil {
				return apperr.Wrap(apperr.KindInternal, "deleting holding", err)
			}
		} else if err := s.repo.UpsertHolding(ctx, holding); err != nil {
			return apperr.Wrap(apperr.KindInternal, "upserting holding", err)
		}
		if err := s.repo.UpdateBalance(ctx, investorID, newBalance); err != nil {
			return apperr.Wrap(apperr.KindInternal, "updating balance", err)
		}
		s.bus.Publish(events.NewBalanceUpdatedEvent(investorID, newBalance))

	default:
		return apperr.New(apperr.KindValidation, "signedQty must not be zero")
	}

	absQty := signedQty
	if absQty < 0 {
		absQty = -absQty
	}
	tx := &Transaction{
		ID:         txID,
		InvestorID: investorID,
		Symbol:     symbol,
		Type:       side,
		Qty:        absQty,
		Price:      price,
		Total:      price.Mul(decimal.NewFromInt(absQty)),
		Ts:         time.Now(),
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return apperr.Wrap(apperr.KindInternal, "recording transaction", err)
	}
	s.bus.Publish(events.NewNewTransactionEvent(tx.ID, investorID, symbol, string(side), absQty, price))

	return nil
}

// upsertBuy implements the §4.2 weighted-average rule:
// avg' = (oldQty*oldAvg + qty*price) / (oldQty + qty)
func upsertBuy(existing *Holding, investorID uuid.UUID, symbol string, qty int64, price decimal.Decimal) *Holding {
	if existing == nil || existing.Qty == 0 {
		return &Holding{InvestorID: investorID, Symbol: symbol, Qty: qty, AvgPrice: price}
	}

	oldQty := decimal.NewFromInt(existing.Qty)
	newQty := decimal.NewFromInt(qty)
	numerator := oldQty.Mul(existing.AvgPrice).Add(newQty.Mul(price))
	denom := oldQty.Add(newQty)

	existing.AvgPrice = numerator.Div(denom)
	existing.Qty += qty
	return existing
}

// GetPortfolio returns every holding for investor, decorated with
// current value and P&L using currentPrices (§4.4).
func (s *Store) GetPortfolio(ctx context.Context, investorID uuid.UUID, currentPrices map[string]decimal.Decimal) ([]PortfolioEntry, error) {
	holdings, err := s.repo.ListHoldings(ctx, investorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing holdings", err)
	}

	out := make([]PortfolioEntry, 0, len(holdings))
	for _, h := range holdings {
		price, ok := currentPrices[h.Symbol]
		if !ok {
			price = h.AvgPrice
		}
		qty := decimal.NewFromInt(h.Qty)
		currentValue := price.Mul(qty)
		basis := h.AvgPrice.Mul(qty)
		out = append(out, PortfolioEntry{
			Holding:      *h,
			CurrentValue: currentValue,
			ProfitLoss:   currentValue.Sub(basis),
		})
	}
	return out, nil
}

// Transactions returns investor's transactions within [start, end],
// newest-first, capped at limit (§4.4).
func (s *Store) Transactions(ctx context.Context, investorID uuid.UUID, limit int, start, end time.Time) ([]*Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, investorID, limit, start, end)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing transactions", err)
	}
	return txs, nil
}
