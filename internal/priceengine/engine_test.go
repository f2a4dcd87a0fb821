package priceengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/pkg/types"
)

type fakeRepository struct {
	mu      sync.Mutex
	stocks  map[string]*types.Quote
	history []types.PricePoint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{stocks: make(map[string]*types.Quote)}
}

func (r *fakeRepository) UpsertStock(ctx context.Context, s *types.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stocks[s.Symbol] = &cp
	return nil
}

func (r *fakeRepository) AppendHistory(ctx context.Context, p types.PricePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, p)
	return nil
}

func (r *fakeRepository) LoadStocks(ctx context.Context) (map[string]*types.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*types.Quote, len(r.stocks))
	for k, v := range r.stocks {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (r *fakeRepository) History(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.PricePoint
	for _, p := range r.history {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestEngine() (*Engine, *fakeRepository) {
	bus := events.NewEventBus(64, zerolog.Nop())
	repo := newFakeRepository()
	return New(0, repo, bus, zerolog.Nop()), repo
}

func TestEngine_InitializeStockSeedsQuote(t *testing.T) {
	engine, repo := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))

	q, err := engine.GetPrice("AAPL")
	require.NoError(t, err)
	assert.True(t, q.Current.Equal(decimal.NewFromInt(100)))
	assert.True(t, q.Open.Equal(decimal.NewFromInt(100)))

	_, ok := repo.stocks["AAPL"]
	assert.True(t, ok, "initializing a stock must persist it")
}

func TestEngine_InitializeStockRejectsDuplicate(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))
	err := engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(200))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestEngine_ApplyUnknownSymbolFails(t *testing.T) {
	engine, _ := newTestEngine()
	err := engine.Apply(context.Background(), "GHOST", 10, true, ImpactFactorSettlement)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEngine_ApplyBuyPressureRaisesPrice(t *testing.T) {
	engine, repo := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))

	require.NoError(t, engine.Apply(ctx, "AAPL", 1000, true, ImpactFactorSettlement))

	q, err := engine.GetPrice("AAPL")
	require.NoError(t, err)
	assert.True(t, q.Current.GreaterThan(decimal.NewFromInt(100)), "buy-side flow should raise the price")
	assert.Equal(t, int64(1000), q.Volume)
	require.Len(t, repo.history, 1)
}

func TestEngine_ApplySellPressureLowersPrice(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))

	require.NoError(t, engine.Apply(ctx, "AAPL", 1000, false, ImpactFactorSettlement))

	q, err := engine.GetPrice("AAPL")
	require.NoError(t, err)
	assert.True(t, q.Current.LessThan(decimal.NewFromInt(100)), "sell-side flow should lower the price")
}

func TestEngine_ApplyNeverCrossesPriceFloor(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "PENNY", decimal.NewFromFloat(0.02)))

	for i := 0; i < 50; i++ {
		require.NoError(t, engine.Apply(ctx, "PENNY", 100000, false, ImpactFactorSettlement))
	}

	q, err := engine.GetPrice("PENNY")
	require.NoError(t, err)
	floor, _ := decimal.NewFromString(PriceFloor)
	assert.True(t, q.Current.GreaterThanOrEqual(floor), "price must never drop below the floor")
}

func TestEngine_ApplyTracksHighLow(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))

	require.NoError(t, engine.Apply(ctx, "AAPL", 2000, true, ImpactFactorSettlement))
	require.NoError(t, engine.Apply(ctx, "AAPL", 2000, false, ImpactFactorSettlement))
	require.NoError(t, engine.Apply(ctx, "AAPL", 2000, false, ImpactFactorSettlement))

	q, err := engine.GetPrice("AAPL")
	require.NoError(t, err)
	assert.True(t, q.High.GreaterThanOrEqual(q.Current))
	assert.True(t, q.Low.LessThanOrEqual(q.Current))
}

func TestEngine_ResetDailySetsOpenHighLowToCurrent(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))
	require.NoError(t, engine.Apply(ctx, "AAPL", 2000, true, ImpactFactorSettlement))

	require.NoError(t, engine.ResetDaily(ctx))

	q, err := engine.GetPrice("AAPL")
	require.NoError(t, err)
	assert.True(t, q.Open.Equal(q.Current))
	assert.True(t, q.High.Equal(q.Current))
	assert.True(t, q.Low.Equal(q.Current))
}

func TestEngine_GetPricesReturnsEverySymbol(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()
	require.NoError(t, engine.InitializeStock(ctx, "AAPL", decimal.NewFromInt(100)))
	require.NoError(t, engine.InitializeStock(ctx, "MSFT", decimal.NewFromInt(300)))

	prices := engine.GetPrices()
	assert.Len(t, prices, 2)
	assert.Contains(t, prices, "AAPL")
	assert.Contains(t, prices, "MSFT")
}

func TestNextPrice_BookPressureIsSmallerThanSettlement(t *testing.T) {
	current := decimal.NewFromInt(100)

	bookPressure := nextPrice(current, DefaultVolatility, 1000, true, ImpactFactorBookPressure)
	settlement := nextPrice(current, DefaultVolatility, 1000, true, ImpactFactorSettlement)

	bookDelta := bookPressure.Sub(current).Abs()
	settleDelta := settlement.Sub(current).Abs()
	assert.True(t, settleDelta.GreaterThan(bookDelta), "a real settlement should move price more than mere book pressure")
}
