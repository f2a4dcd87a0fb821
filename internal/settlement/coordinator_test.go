package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/matching"
)

type tradeLeg struct {
	investorID uuid.UUID
	symbol     string
	signedQty  int64
	price      decimal.Decimal
	txID       uuid.UUID
}

type fakePortfolio struct {
	mu      sync.Mutex
	legs    []tradeLeg
	failFor uuid.UUID
}

func (f *fakePortfolio) ApplyTrade(ctx context.Context, investorID uuid.UUID, symbol string, signedQty int64, price decimal.Decimal, txID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if investorID == f.failFor {
		return errors.New("insufficient funds")
	}
	f.legs = append(f.legs, tradeLeg{investorID, symbol, signedQty, price, txID})
	return nil
}

type fakePrices struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePrices) Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impactFactor float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeAnalytics struct {
	mu      sync.Mutex
	recorded []*matching.Execution
}

func (f *fakeAnalytics) Record(ctx context.Context, exec *matching.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, exec)
	return nil
}

type fakeRepository struct {
	mu      sync.Mutex
	saved   []*matching.Execution
	failed  []*matching.Execution
}

func (f *fakeRepository) SaveExecution(ctx context.Context, exec *matching.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, exec)
	return nil
}

func (f *fakeRepository) MarkFailed(ctx context.Context, exec *matching.Execution, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, exec)
	return nil
}

func newTestCoordinator() (*Coordinator, *fakePortfolio, *fakePrices, *fakeAnalytics, *fakeRepository) {
	bus := events.NewEventBus(64, zerolog.Nop())
	portfolio := &fakePortfolio{}
	prices := &fakePrices{}
	analytics := &fakeAnalytics{}
	repo := &fakeRepository{}
	c := New(portfolio, prices, analytics, repo, bus, nil, zerolog.Nop())
	return c, portfolio, prices, analytics, repo
}

func newExecution() *matching.Execution {
	return &matching.Execution{
		ID:             uuid.New(),
		Symbol:         "AAPL",
		BuyOrderID:     uuid.New(),
		SellOrderID:    uuid.New(),
		BuyerID:        uuid.New(),
		SellerID:       uuid.New(),
		Qty:            10,
		Price:          decimal.NewFromInt(100),
		AggressorIsBuy: true,
	}
}

func TestCoordinator_SettleAppliesBothLegs(t *testing.T) {
	c, portfolio, prices, analytics, repo := newTestCoordinator()
	exec := newExecution()

	err := c.Settle(context.Background(), exec)
	require.NoError(t, err)

	require.Len(t, portfolio.legs, 2)
	assert.Equal(t, exec.BuyerID, portfolio.legs[0].investorID)
	assert.Equal(t, int64(10), portfolio.legs[0].signedQty)
	assert.Equal(t, exec.SellerID, portfolio.legs[1].investorID)
	assert.Equal(t, int64(-10), portfolio.legs[1].signedQty)

	assert.Equal(t, 1, prices.calls)
	assert.Len(t, analytics.recorded, 1)
	assert.Len(t, repo.saved, 1)
}

func TestCoordinator_SettleIsIdempotentViaSingleflight(t *testing.T) {
	c, portfolio, _, _, repo := newTestCoordinator()
	exec := newExecution()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Settle(context.Background(), exec)
		}()
	}
	wg.Wait()

	assert.Len(t, portfolio.legs, 2, "concurrent Settle calls for the same execution id must collapse into one")
	assert.Len(t, repo.saved, 1)
}

func TestCoordinator_SettleFailureMarksFailedAndReturnsError(t *testing.T) {
	bus := events.NewEventBus(64, zerolog.Nop())
	exec := newExecution()
	portfolio := &fakePortfolio{failFor: exec.BuyerID}
	prices := &fakePrices{}
	analytics := &fakeAnalytics{}
	repo := &fakeRepository{}
	c := New(portfolio, prices, analytics, repo, bus, nil, zerolog.Nop())

	err := c.Settle(context.Background(), exec)
	require.Error(t, err)
	assert.Equal(t, apperr.KindSettlementFailed, apperr.KindOf(err))
	assert.Len(t, repo.failed, 1)
	assert.Empty(t, portfolio.legs, "the buyer leg failing must prevent the seller leg from applying")
}

func TestCoordinator_BuyAndSellTxIDsAreStableAndDistinct(t *testing.T) {
	execID := uuid.New()
	buy1 := buyTxID(execID)
	sell1 := sellTxID(execID)
	buy2 := buyTxID(execID)

	assert.Equal(t, buy1, buy2, "deriving the tx id twice for the same execution must be stable")
	assert.NotEqual(t, buy1, sell1, "the buy and sell legs must get distinct transaction ids")
}
