package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/pkg/types"
)

type fakeRepository struct {
	mu           sync.Mutex
	investors    map[uuid.UUID]*Investor
	holdings     map[uuid.UUID]map[string]*Holding
	transactions map[uuid.UUID][]*Transaction
	emails       map[string]bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		investors:    make(map[uuid.UUID]*Investor),
		holdings:     make(map[uuid.UUID]map[string]*Holding),
		transactions: make(map[uuid.UUID][]*Transaction),
		emails:       make(map[string]bool),
	}
}

func (r *fakeRepository) InsertInvestor(ctx context.Context, inv *Investor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emails[inv.Email] {
		return ErrDuplicateEmail
	}
	r.emails[inv.Email] = true
	cp := *inv
	r.investors[inv.ID] = &cp
	return nil
}

func (r *fakeRepository) GetInvestor(ctx context.Context, id uuid.UUID) (*Investor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.investors[id]
	if !ok {
		return nil, fmt.Errorf("investor %s not found", id)
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeRepository) UpdateBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.investors[id]
	if !ok {
		return fmt.Errorf("investor %s not found", id)
	}
	inv.Balance = newBalance
	return nil
}

func (r *fakeRepository) GetHolding(ctx context.Context, investorID uuid.UUID, symbol string) (*Holding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holdings[investorID][symbol]
	if !ok {
		return nil, fmt.Errorf("no holding")
	}
	cp := *h
	return &cp, nil
}

func (r *fakeRepository) UpsertHolding(ctx context.Context, h *Holding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holdings[h.InvestorID] == nil {
		r.holdings[h.InvestorID] = make(map[string]*Holding)
	}
	cp := *h
	r.holdings[h.InvestorID][h.Symbol] = &cp
	return nil
}

func (r *fakeRepository) DeleteHolding(ctx context.Context, investorID uuid.UUID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holdings[investorID], symbol)
	return nil
}

func (r *fakeRepository) ListHoldings(ctx context.Context, investorID uuid.UUID) ([]*Holding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Holding
	for _, h := range r.holdings[investorID] {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepository) InsertTransaction(ctx context.Context, tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.transactions[tx.InvestorID] = append(r.transactions[tx.InvestorID], &cp)
	return nil
}

func (r *fakeRepository) ListTransactions(ctx context.Context, investorID uuid.UUID, limit int, start, end time.Time) ([]*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactions[investorID], nil
}

func newTestStore() (*Store, *fakeRepository) {
	bus := events.NewEventBus(64, zerolog.Nop())
	repo := newFakeRepository()
	return New(repo, bus, zerolog.Nop()), repo
}

func TestStore_RegisterAndGet(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada Lovelace", "ada@example.com", decimal.NewFromInt(10000))
	require.NoError(t, err)

	inv, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", inv.Name)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(10000)))
}

func TestStore_RegisterRejectsDuplicateEmail(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(1000))
	require.NoError(t, err)

	_, err = store.Register(ctx, "Ada Clone", "ada@example.com", decimal.NewFromInt(1000))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestStore_AdjustBalanceRejectsNegativeResult(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(100))
	require.NoError(t, err)

	err = store.AdjustBalance(ctx, id, decimal.NewFromInt(-500), "test overdraw")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))
}

func TestStore_ValidateOrderBuyChecksFunds(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(500))
	require.NoError(t, err)

	err = store.ValidateOrder(ctx, id, "AAPL", types.SideBuy, 10, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	err = store.ValidateOrder(ctx, id, "AAPL", types.SideBuy, 5, decimal.NewFromInt(50))
	assert.NoError(t, err)
}

func TestStore_ValidateOrderSellChecksHoldings(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(10000))
	require.NoError(t, err)

	err = store.ValidateOrder(ctx, id, "AAPL", types.SideSell, 10, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientShares, apperr.KindOf(err))

	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 10, decimal.NewFromInt(100), uuid.New()))
	err = store.ValidateOrder(ctx, id, "AAPL", types.SideSell, 10, decimal.NewFromInt(100))
	assert.NoError(t, err)
}

func TestStore_ApplyTradeBuyUpdatesWeightedAverage(t *testing.T) {
	store, repo := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(100000))
	require.NoError(t, err)

	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 10, decimal.NewFromInt(100), uuid.New()))
	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 10, decimal.NewFromInt(200), uuid.New()))

	h, err := repo.GetHolding(ctx, id, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.Qty)
	assert.True(t, h.AvgPrice.Equal(decimal.NewFromInt(150)), "weighted average of 10@100 and 10@200 should be 150")

	inv, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(100000-1000-2000)))
}

func TestStore_ApplyTradeSellDeletesHoldingAtZero(t *testing.T) {
	store, repo := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(100000))
	require.NoError(t, err)

	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 10, decimal.NewFromInt(100), uuid.New()))
	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", -10, decimal.NewFromInt(120), uuid.New()))

	_, err = repo.GetHolding(ctx, id, "AAPL")
	assert.Error(t, err, "a fully sold holding must be deleted")

	txs, err := store.Transactions(ctx, id, 10, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestStore_ApplyTradeSellRejectsOverdraw(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(100000))
	require.NoError(t, err)
	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 5, decimal.NewFromInt(100), uuid.New()))

	err = store.ApplyTrade(ctx, id, "AAPL", -10, decimal.NewFromInt(100), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientShares, apperr.KindOf(err))
}

func TestStore_GetPortfolioComputesProfitAndLoss(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	id, err := store.Register(ctx, "Ada", "ada@example.com", decimal.NewFromInt(100000))
	require.NoError(t, err)
	require.NoError(t, store.ApplyTrade(ctx, id, "AAPL", 10, decimal.NewFromInt(100), uuid.New()))

	entries, err := store.GetPortfolio(ctx, id, map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CurrentValue.Equal(decimal.NewFromInt(1500)))
	assert.True(t, entries[0].ProfitLoss.Equal(decimal.NewFromInt(500)))
}
