package analytics

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/internal/portfolio"
	"github.com/marketsim/tradingcore/pkg/types"
)

type fakeRepository struct {
	trades []*Trade
}

func (r *fakeRepository) InsertTrade(ctx context.Context, t *Trade) error {
	cp := *t
	r.trades = append(r.trades, &cp)
	return nil
}

func (r *fakeRepository) TradesInWindow(ctx context.Context, since time.Time) ([]*Trade, error) {
	var out []*Trade
	for _, t := range r.trades {
		if t.Ts.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepository) TradesForSymbol(ctx context.Context, symbol string, since time.Time) ([]*Trade, error) {
	var out []*Trade
	for _, t := range r.trades {
		if t.Symbol == symbol && t.Ts.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepository) TradesForInvestor(ctx context.Context, investorID uuid.UUID) ([]*Trade, error) {
	var out []*Trade
	for _, t := range r.trades {
		if t.BuyerID == investorID || t.SellerID == investorID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepository) TradesInRange(ctx context.Context, symbol string, start, end time.Time) ([]*Trade, error) {
	var out []*Trade
	for _, t := range r.trades {
		if t.Symbol == symbol && !t.Ts.Before(start) && !t.Ts.After(end) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakePrices struct {
	quotes  map[string]types.Quote
	history map[string][]types.PricePoint
}

func newFakePrices() *fakePrices {
	return &fakePrices{quotes: make(map[string]types.Quote), history: make(map[string][]types.PricePoint)}
}

func (f *fakePrices) GetPrice(symbol string) (types.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return types.Quote{}, apperr.New(apperr.KindNotFound, "unknown symbol")
	}
	return q, nil
}

func (f *fakePrices) GetPrices() map[string]types.Quote { return f.quotes }

func (f *fakePrices) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error) {
	h := f.history[symbol]
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

type fakePortfolioReader struct {
	entries map[uuid.UUID][]portfolio.PortfolioEntry
}

func (f *fakePortfolioReader) GetPortfolio(ctx context.Context, investorID uuid.UUID, currentPrices map[string]decimal.Decimal) ([]portfolio.PortfolioEntry, error) {
	return f.entries[investorID], nil
}

func newTestRecorder() (*Recorder, *fakeRepository, *fakePrices, *fakePortfolioReader) {
	bus := events.NewEventBus(64, zerolog.Nop())
	repo := &fakeRepository{}
	prices := newFakePrices()
	portfolioReader := &fakePortfolioReader{entries: make(map[uuid.UUID][]portfolio.PortfolioEntry)}
	return New(repo, prices, portfolioReader, bus, zerolog.Nop()), repo, prices, portfolioReader
}

func TestRecorder_RecordDefaultsZeroTimestamp(t *testing.T) {
	recorder, repo, _, _ := newTestRecorder()
	exec := &matching.Execution{
		ID: uuid.New(), Symbol: "AAPL", BuyerID: uuid.New(), SellerID: uuid.New(),
		Qty: 10, Price: decimal.NewFromInt(100),
	}

	require.NoError(t, recorder.Record(context.Background(), exec))
	require.Len(t, repo.trades, 1)
	assert.False(t, repo.trades[0].Ts.IsZero(), "a zero exec.Ts must be defaulted to now")
}

func TestRecorder_TopTradedRanksByQtyThenCount(t *testing.T) {
	recorder, repo, _, _ := newTestRecorder()
	now := time.Now()
	repo.trades = []*Trade{
		{Symbol: "AAPL", Qty: 100, Ts: now},
		{Symbol: "MSFT", Qty: 200, Ts: now},
		{Symbol: "MSFT", Qty: 50, Ts: now},
		{Symbol: "GOOG", Qty: 10, Ts: now},
	}

	out, err := recorder.TopTraded(context.Background(), 2, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "MSFT", out[0].Symbol)
	assert.Equal(t, int64(250), out[0].TotalQty)
	assert.Equal(t, 2, out[0].TradeCount)
	assert.Equal(t, "AAPL", out[1].Symbol)
}

func TestRecorder_MostVolatileRanksDescending(t *testing.T) {
	recorder, _, prices, _ := newTestRecorder()
	now := time.Now()

	prices.quotes["STABLE"] = types.Quote{Symbol: "STABLE", Current: decimal.NewFromInt(100)}
	prices.history["STABLE"] = []types.PricePoint{
		{Symbol: "STABLE", Price: decimal.NewFromInt(100), Ts: now},
		{Symbol: "STABLE", Price: decimal.NewFromInt(101), Ts: now},
	}

	prices.quotes["WILD"] = types.Quote{Symbol: "WILD", Current: decimal.NewFromInt(100)}
	prices.history["WILD"] = []types.PricePoint{
		{Symbol: "WILD", Price: decimal.NewFromInt(50), Ts: now},
		{Symbol: "WILD", Price: decimal.NewFromInt(150), Ts: now},
	}

	out, err := recorder.MostVolatile(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "WILD", out[0].Symbol, "the symbol with the wider price range should rank first")
}

func TestRecorder_MarketStatsSentimentBullish(t *testing.T) {
	recorder, repo, prices, _ := newTestRecorder()
	now := time.Now()
	buyer, seller := uuid.New(), uuid.New()
	repo.trades = []*Trade{
		{Symbol: "AAPL", Qty: 10, BuyerID: buyer, SellerID: seller, Ts: now},
	}
	prices.quotes["AAPL"] = types.Quote{Symbol: "AAPL", Current: decimal.NewFromInt(110), Open: decimal.NewFromInt(100)}

	stats, err := recorder.MarketStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, int64(10), stats.Volume)
	assert.Equal(t, 2, stats.DistinctInvestors)
	assert.Equal(t, "BULLISH", stats.Sentiment)
}

func TestRecorder_InvestorPerformanceComputesRealizedPnL(t *testing.T) {
	recorder, repo, prices, portfolioReader := newTestRecorder()
	investor := uuid.New()
	counterparty := uuid.New()
	now := time.Now()

	repo.trades = []*Trade{
		{Symbol: "AAPL", BuyerID: investor, SellerID: counterparty, Qty: 10, Price: decimal.NewFromInt(100), Ts: now},
		{Symbol: "AAPL", BuyerID: counterparty, SellerID: investor, Qty: 10, Price: decimal.NewFromInt(120), Ts: now.Add(time.Minute)},
	}
	prices.quotes["AAPL"] = types.Quote{Symbol: "AAPL", Current: decimal.NewFromInt(130)}
	portfolioReader.entries[investor] = nil

	perf, err := recorder.InvestorPerformance(context.Background(), investor)
	require.NoError(t, err)
	require.Len(t, perf.BySymbol, 1)
	assert.True(t, perf.BySymbol[0].RealizedPnL.Equal(decimal.NewFromInt(200)), "buying at 100 then selling at 120 on 10 shares realizes 200")
	assert.True(t, perf.WinRate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 2, perf.TradeCount)
}

func TestRecorder_PredictPriceRequiresMinimumHistory(t *testing.T) {
	recorder, _, prices, _ := newTestRecorder()
	prices.history["AAPL"] = []types.PricePoint{{Symbol: "AAPL", Price: decimal.NewFromInt(100), Ts: time.Now()}}

	_, err := recorder.PredictPrice(context.Background(), "AAPL", 60)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecorder_PredictPriceDetectsUptrend(t *testing.T) {
	recorder, _, prices, _ := newTestRecorder()
	now := time.Now()
	// newest-first, strictly increasing as we go further back means a
	// decreasing trend toward now... construct an upward trend toward now:
	// oldest (index len-1) = 100, newest (index 0) = 110.
	prices.history["AAPL"] = []types.PricePoint{
		{Symbol: "AAPL", Price: decimal.NewFromInt(110), Ts: now},
		{Symbol: "AAPL", Price: decimal.NewFromInt(107), Ts: now.Add(-time.Minute)},
		{Symbol: "AAPL", Price: decimal.NewFromInt(104), Ts: now.Add(-2 * time.Minute)},
		{Symbol: "AAPL", Price: decimal.NewFromInt(100), Ts: now.Add(-3 * time.Minute)},
	}

	pred, err := recorder.PredictPrice(context.Background(), "AAPL", 60)
	require.NoError(t, err)
	assert.Equal(t, "UP", pred.Trend)
	assert.True(t, pred.Predicted.GreaterThan(decimal.NewFromInt(110)))
}

func TestRecorder_TradingVolumeBucketsChronologically(t *testing.T) {
	recorder, repo, _, _ := newTestRecorder()
	start := time.Now()
	end := start.Add(10 * time.Minute)

	repo.trades = []*Trade{
		{Symbol: "AAPL", Qty: 10, Price: decimal.NewFromInt(100), Ts: start.Add(30 * time.Second)},
		{Symbol: "AAPL", Qty: 5, Price: decimal.NewFromInt(102), Ts: start.Add(90 * time.Second)},
		{Symbol: "AAPL", Qty: 20, Price: decimal.NewFromInt(98), Ts: start.Add(200 * time.Second)},
	}

	buckets, err := recorder.TradingVolume(context.Background(), "AAPL", start, end, 60000)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.True(t, sort.SliceIsSorted(buckets, func(i, j int) bool { return buckets[i].Ts.Before(buckets[j].Ts) }))
	assert.Equal(t, int64(10), buckets[0].Volume)
}

func TestRecorder_TradingVolumeRejectsNonPositiveInterval(t *testing.T) {
	recorder, _, _, _ := newTestRecorder()
	_, err := recorder.TradingVolume(context.Background(), "AAPL", time.Now(), time.Now(), 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
