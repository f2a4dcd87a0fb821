// Package analytics is the Analytics Recorder (§4.6): an append-only
// trade log with derived aggregates computed on query. It is the sole
// writer of the analytics_trades table (§3 Ownership).
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/internal/portfolio"
	"github.com/marketsim/tradingcore/pkg/types"
)

// Trade is one settled execution (§3), stored as a single row that names
// both counterparties; each investor's view is read from it by BuyerID or
// SellerID.
type Trade struct {
	ID       uuid.UUID
	Symbol   string
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	Qty      int64
	Price    decimal.Decimal
	Ts       time.Time
}

// Repository reads/writes the append-only analytics_trades table.
type Repository interface {
	InsertTrade(ctx context.Context, t *Trade) error
	TradesInWindow(ctx context.Context, since time.Time) ([]*Trade, error)
	TradesForSymbol(ctx context.Context, symbol string, since time.Time) ([]*Trade, error)
	TradesForInvestor(ctx context.Context, investorID uuid.UUID) ([]*Trade, error)
	TradesInRange(ctx context.Context, symbol string, start, end time.Time) ([]*Trade, error)
}

// PriceReader is the slice of the Price Engine analytics needs for
// MostVolatile, MarketStats, and PredictPrice.
type PriceReader interface {
	GetPrice(symbol string) (types.Quote, error)
	GetPrices() map[string]types.Quote
	GetPriceHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error)
}

// PortfolioReader is the slice of the Portfolio Store analytics needs
// for InvestorPerformance's unrealized P&L.
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, investorID uuid.UUID, currentPrices map[string]decimal.Decimal) ([]portfolio.PortfolioEntry, error)
}

// Recorder is the Analytics Recorder (§4.6).
type Recorder struct {
	repo      Repository
	prices    PriceReader
	portfolio PortfolioReader
	bus       *events.EventBus
	logger    zerolog.Logger
}

// New builds an Analytics Recorder.
func New(repo Repository, prices PriceReader, portfolioReader PortfolioReader, bus *events.EventBus, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		prices:    prices,
		portfolio: portfolioReader,
		bus:       bus,
		logger:    logger.With().Str("component", "analytics").Logger(),
	}
}

// Record appends a settled execution to the trade log (§4.2 step 4,
// §4.6). The settlement coordinator is the only caller.
func (r *Recorder) Record(ctx context.Context, exec *matching.Execution) error {
	t := &Trade{
		ID:       exec.ID,
		Symbol:   exec.Symbol,
		BuyerID:  exec.BuyerID,
		SellerID: exec.SellerID,
		Qty:      exec.Qty,
		Price:    exec.Price,
		Ts:       exec.Ts,
	}
	if t.Ts.IsZero() {
		t.Ts = time.Now()
	}
	if err := r.repo.InsertTrade(ctx, t); err != nil {
		return apperr.Wrap(apperr.KindInternal, "recording analytics trade", err)
	}
	return nil
}

// TopTradedEntry is one row of TopTraded (§4.6).
type TopTradedEntry struct {
	Symbol     string
	TotalQty   int64
	TradeCount int
}

// TopTraded ranks symbols by total traded quantity within window,
// tie-broken by trade count (§4.6).
func (r *Recorder) TopTraded(ctx context.Context, limit int, window time.Duration) ([]TopTradedEntry, error) {
	trades, err := r.repo.TradesInWindow(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading trades", err)
	}

	agg := make(map[string]*TopTradedEntry)
	for _, t := range trades {
		e, ok := agg[t.Symbol]
		if !ok {
			e = &TopTradedEntry{Symbol: t.Symbol}
			agg[t.Symbol] = e
		}
		e.TotalQty += t.Qty
		e.TradeCount++
	}

	out := make([]TopTradedEntry, 0, len(agg))
	for _, e := range agg {
		out = append(out, *e)
	}
	sortByQtyThenCount(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	symbols := make([]string, len(out))
	for i, e := range out {
		symbols[i] = e.Symbol
	}
	r.bus.Publish(events.NewTopStocksUpdatedEvent(symbols))

	return out, nil
}

func sortByQtyThenCount(entries []TopTradedEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			less := a.TotalQty < b.TotalQty || (a.TotalQty == b.TotalQty && a.TradeCount < b.TradeCount)
			if !less {
				break
			}
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// VolatilityEntry is one row of MostVolatile (§4.6).
type VolatilityEntry struct {
	Symbol     string
	Volatility decimal.Decimal // (max-min)/avg * 100 over the window
}

// MostVolatile ranks symbols by price range over average over window,
// descending (§4.6).
func (r *Recorder) MostVolatile(ctx context.Context, limit int, window time.Duration) ([]VolatilityEntry, error) {
	quotes := r.prices.GetPrices()
	start := time.Now().Add(-window)
	end := time.Now()

	var out []VolatilityEntry
	for symbol := range quotes {
		history, err := r.prices.GetPriceHistory(ctx, symbol, start, end, 0)
		if err != nil || len(history) == 0 {
			continue
		}

		max, min, sum := history[0].Price, history[0].Price, decimal.Zero
		for _, p := range history {
			if p.Price.GreaterThan(max) {
				max = p.Price
			}
			if p.Price.LessThan(min) {
				min = p.Price
			}
			sum = sum.Add(p.Price)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(history))))
		if avg.IsZero() {
			continue
		}
		vol := max.Sub(min).Div(avg).Mul(decimal.NewFromInt(100))
		out = append(out, VolatilityEntry{Symbol: symbol, Volatility: vol})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Volatility.LessThan(out[j].Volatility); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarketStats is the 24h market-wide summary (§4.6).
type MarketStats struct {
	Trades           int
	Volume           int64
	DistinctInvestors int
	DistinctSymbols  int
	Trend            decimal.Decimal
	Sentiment        string
}

// MarketStats computes totals over the last 24h plus trend/sentiment
// (§4.6).
func (r *Recorder) MarketStats(ctx context.Context) (*MarketStats, error) {
	trades, err := r.repo.TradesInWindow(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading trades", err)
	}

	investors := make(map[uuid.UUID]struct{})
	symbols := make(map[string]struct{})
	var volume int64
	for _, t := range trades {
		investors[t.BuyerID] = struct{}{}
		investors[t.SellerID] = struct{}{}
		symbols[t.Symbol] = struct{}{}
		volume += t.Qty
	}

	quotes := r.prices.GetPrices()
	var trendSum decimal.Decimal
	for _, q := range quotes {
		trendSum = trendSum.Add(q.Current.Sub(q.Open))
	}
	trend := decimal.Zero
	if len(quotes) > 0 {
		trend = trendSum.Div(decimal.NewFromInt(int64(len(quotes))))
	}

	sentiment := "NEUTRAL"
	switch {
	case trend.GreaterThan(decimal.NewFromFloat(0.5)):
		sentiment = "BULLISH"
	case trend.LessThan(decimal.NewFromFloat(-0.5)):
		sentiment = "BEARISH"
	}

	return &MarketStats{
		Trades:            len(trades),
		Volume:            volume,
		DistinctInvestors: len(investors),
		DistinctSymbols:   len(symbols),
		Trend:             trend,
		Sentiment:         sentiment,
	}, nil
}

// RiskLevel is the §4.6 InvestorPerformance risk bucket.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// SymbolPerformance is one per-symbol entry of InvestorPerformance.
type SymbolPerformance struct {
	Symbol       string
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// InvestorPerformance is the §4.6 per-investor summary.
type InvestorPerformance struct {
	InvestorID uuid.UUID
	BySymbol   []SymbolPerformance
	WinRate    decimal.Decimal
	RiskLevel  RiskLevel
	TradeCount int
}

// InvestorPerformance computes realized P&L from matched BUY/SELL runs,
// unrealized P&L from current holdings, win rate, and risk level (§4.6).
func (r *Recorder) InvestorPerformance(ctx context.Context, investorID uuid.UUID) (*InvestorPerformance, error) {
	trades, err := r.repo.TradesForInvestor(ctx, investorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading investor trades", err)
	}

	realized := make(map[string]decimal.Decimal)
	wins, losses := 0, 0
	var totalValue decimal.Decimal

	runs := make(map[string]*fifoRun)
	for _, t := range trades {
		totalValue = totalValue.Add(t.Price.Mul(decimal.NewFromInt(t.Qty)))
		run, ok := runs[t.Symbol]
		if !ok {
			run = &fifoRun{}
			runs[t.Symbol] = run
		}
		if t.BuyerID == investorID {
			run.buys = append(run.buys, lot{qty: t.Qty, price: t.Price})
		} else {
			pnl := run.matchSell(t.Qty, t.Price)
			realized[t.Symbol] = realized[t.Symbol].Add(pnl)
			if pnl.IsPositive() {
				wins++
			} else if pnl.IsNegative() {
				losses++
			}
		}
	}

	quotes := r.prices.GetPrices()
	currentPrices := make(map[string]decimal.Decimal, len(quotes))
	for sym, q := range quotes {
		currentPrices[sym] = q.Current
	}

	holdings, err := r.portfolio.GetPortfolio(ctx, investorID, currentPrices)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading holdings", err)
	}

	unrealized := make(map[string]decimal.Decimal)
	for _, h := range holdings {
		unrealized[h.Symbol] = h.ProfitLoss
	}

	symbols := make(map[string]struct{})
	for sym := range realized {
		symbols[sym] = struct{}{}
	}
	for sym := range unrealized {
		symbols[sym] = struct{}{}
	}

	bySymbol := make([]SymbolPerformance, 0, len(symbols))
	for sym := range symbols {
		bySymbol = append(bySymbol, SymbolPerformance{
			Symbol:        sym,
			RealizedPnL:   realized[sym],
			UnrealizedPnL: unrealized[sym],
		})
	}

	winRate := decimal.Zero
	if wins+losses > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(wins + losses)))
	}

	avgTrade := decimal.Zero
	if len(trades) > 0 {
		avgTrade = totalValue.Div(decimal.NewFromInt(int64(len(trades))))
	}

	risk := RiskLow
	switch {
	case avgTrade.GreaterThanOrEqual(decimal.NewFromInt(10000)) || len(trades) > 50:
		risk = RiskHigh
	case avgTrade.GreaterThanOrEqual(decimal.NewFromInt(5000)) || len(trades) > 20:
		risk = RiskMedium
	}

	return &InvestorPerformance{
		InvestorID: investorID,
		BySymbol:   bySymbol,
		WinRate:    winRate,
		RiskLevel:  risk,
		TradeCount: len(trades),
	}, nil
}

// lot is one unmatched buy lot in a FIFO realized-P&L run.
type lot struct {
	qty   int64
	price decimal.Decimal
}

// fifoRun matches sells against the oldest open buy lots for one
// investor/symbol, realizing P&L per the matched quantity (§4.6).
type fifoRun struct {
	buys []lot
}

func (f *fifoRun) matchSell(qty int64, price decimal.Decimal) decimal.Decimal {
	pnl := decimal.Zero
	for qty > 0 && len(f.buys) > 0 {
		lot := &f.buys[0]
		matched := qty
		if lot.qty < matched {
			matched = lot.qty
		}
		pnl = pnl.Add(price.Sub(lot.price).Mul(decimal.NewFromInt(matched)))
		lot.qty -= matched
		qty -= matched
		if lot.qty == 0 {
			f.buys = f.buys[1:]
		}
	}
	return pnl
}

// Prediction is the §4.6 PredictPrice result.
type Prediction struct {
	Symbol     string
	Predicted  decimal.Decimal
	Confidence decimal.Decimal
	Trend      string
}

// PredictPrice fits a linear regression over the last 20 price points
// and extrapolates horizonMin/60 steps ahead (§4.6).
func (r *Recorder) PredictPrice(ctx context.Context, symbol string, horizonMin int) (*Prediction, error) {
	history, err := r.prices.GetPriceHistory(ctx, symbol, time.Time{}, time.Now(), 20)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading price history", err)
	}
	if len(history) < 2 {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("not enough history for %s", symbol))
	}

	// history is newest-first (§4.3); regress oldest-to-newest.
	n := len(history)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = float64(i)
		p, _ := history[n-1-i].Price.Float64()
		ys[i] = p
	}

	slope, intercept, rSquared := linearRegression(xs, ys)

	steps := float64(horizonMin) / 60.0
	predicted := intercept + slope*(float64(n-1)+steps)

	current := ys[n-1]
	changePct := 0.0
	if current != 0 {
		changePct = (predicted - current) / current * 100
	}

	trend := "STABLE"
	switch {
	case changePct > 0.5:
		trend = "UP"
	case changePct < -0.5:
		trend = "DOWN"
	}

	confidence := clamp(0, rSquared*100, 100)
	predictedDecimal := decimal.NewFromFloat(predicted).Round(6)

	r.bus.Publish(events.NewPredictionAvailableEvent(symbol, predictedDecimal))

	return &Prediction{
		Symbol:     symbol,
		Predicted:  predictedDecimal,
		Confidence: decimal.NewFromFloat(confidence).Round(2),
		Trend:      trend,
	}, nil
}

func linearRegression(xs, ys []float64) (slope, intercept, rSquared float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i := range xs {
		predicted := intercept + slope*xs[i]
		ssRes += (ys[i] - predicted) * (ys[i] - predicted)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot == 0 {
		return slope, intercept, 1
	}
	return slope, intercept, 1 - ssRes/ssTot
}

func clamp(lo, v, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// VolumeBucket is one row of TradingVolume (§4.6).
type VolumeBucket struct {
	Ts       time.Time
	Volume   int64
	Count    int
	AvgPrice decimal.Decimal
}

// TradingVolume buckets symbol's trades between start and end into
// intervalMs-wide buckets, returning only non-empty buckets (§4.6).
func (r *Recorder) TradingVolume(ctx context.Context, symbol string, start, end time.Time, intervalMs int64) ([]VolumeBucket, error) {
	trades, err := r.repo.TradesInRange(ctx, symbol, start, end)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "loading trades in range", err)
	}
	if intervalMs <= 0 {
		return nil, apperr.New(apperr.KindValidation, "intervalMs must be positive")
	}

	interval := time.Duration(intervalMs) * time.Millisecond
	buckets := make(map[int64]*VolumeBucket)
	var order []int64

	for _, t := range trades {
		key := t.Ts.Sub(start).Nanoseconds() / interval.Nanoseconds()
		b, ok := buckets[key]
		if !ok {
			b = &VolumeBucket{Ts: start.Add(time.Duration(key) * interval)}
			buckets[key] = b
			order = append(order, key)
		}
		b.Volume += t.Qty
		b.Count++
		b.AvgPrice = b.AvgPrice.Add(t.Price)
	}

	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}

	out := make([]VolumeBucket, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		b.AvgPrice = b.AvgPrice.Div(decimal.NewFromInt(int64(b.Count)))
		out = append(out, *b)
	}
	return out, nil
}
