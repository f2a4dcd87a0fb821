// Package priceengine owns every symbol's quote, OHLC, and price
// history, and computes the post-trade price impact of order flow
// (§4.3). It is the exclusive writer of the `stocks` and
// `price_history` tables (§3 Ownership, §5).
package priceengine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/pkg/types"
)

// ImpactFactor values named in §4.3: book pressure from a resting order
// that did not immediately execute, versus an actual settlement.
const (
	ImpactFactorBookPressure = 0.3
	ImpactFactorSettlement   = 1.0

	// DefaultVolatility is the default `volatility` constant in §4.3's
	// price-impact formula.
	DefaultVolatility = 0.001

	// PriceFloor is the §3/§8 invariant: current >= 0.01 after every Apply.
	PriceFloor = "0.01"
)

// Repository persists stock quotes and price history. The price engine
// is its sole writer (§3 Ownership).
type Repository interface {
	UpsertStock(ctx context.Context, s *types.Quote) error
	AppendHistory(ctx context.Context, p types.PricePoint) error
	LoadStocks(ctx context.Context) (map[string]*types.Quote, error)
	History(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error)
}

// symbolState is the mutable quote for one symbol, guarded by its own
// mutex so mutations to different symbols never contend (§4.3, §5).
type symbolState struct {
	mu    sync.Mutex
	quote types.Quote
}

// Engine is the price engine (§4.3). Reads may proceed concurrently;
// mutations to a given symbol are serialized by that symbol's mutex.
type Engine struct {
	volatility float64
	repo       Repository
	bus        *events.EventBus
	logger     zerolog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// New builds a price engine. volatility <= 0 defaults to DefaultVolatility.
func New(volatility float64, repo Repository, bus *events.EventBus, logger zerolog.Logger) *Engine {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	return &Engine{
		volatility: volatility,
		repo:       repo,
		bus:        bus,
		logger:     logger.With().Str("component", "priceengine").Logger(),
		symbols:    make(map[string]*symbolState),
	}
}

// InitializeStock seeds a symbol at boot (§3 "Stocks are created at boot
// from configuration and never deleted").
func (e *Engine) InitializeStock(ctx context.Context, symbol string, price decimal.Decimal) error {
	e.mu.Lock()
	if _, ok := e.symbols[symbol]; ok {
		e.mu.Unlock()
		return apperr.New(apperr.KindConflict, fmt.Sprintf("stock %s already initialized", symbol))
	}
	st := &symbolState{quote: types.Quote{
		Symbol: symbol, Current: price, Open: price, High: price, Low: price, LastUpdated: time.Now(),
	}}
	e.symbols[symbol] = st
	e.mu.Unlock()

	return e.repo.UpsertStock(ctx, &st.quote)
}

// LoadFromStore hydrates the in-memory symbol table from the store at
// boot, for a process restart where stocks were already initialized.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	stocks, err := e.repo.LoadStocks(ctx)
	if err != nil {
		return fmt.Errorf("loading stocks: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for sym, q := range stocks {
		e.symbols[sym] = &symbolState{quote: *q}
	}
	return nil
}

func (e *Engine) state(symbol string) (*symbolState, error) {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("unknown symbol %s", symbol))
	}
	return st, nil
}

// Apply nudges symbol's price in response to qty shares of flow on the
// given direction, per the §4.3 formula. impactFactor is
// ImpactFactorBookPressure (0.3) for a placed-but-not-executed order or
// ImpactFactorSettlement (1.0) for an actual trade.
func (e *Engine) Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impactFactor float64) error {
	st, err := e.state(symbol)
	if err != nil {
		return err
	}

	st.mu.Lock()
	prev := st.quote.Current
	next := nextPrice(prev, e.volatility, qty, isBuy, impactFactor)

	st.quote.Current = next
	if next.GreaterThan(st.quote.High) {
		st.quote.High = next
	}
	if next.LessThan(st.quote.Low) {
		st.quote.Low = next
	}
	st.quote.Volume += qty
	st.quote.LastUpdated = time.Now()
	snapshot := st.quote
	st.mu.Unlock()

	if err := e.repo.UpsertStock(ctx, &snapshot); err != nil {
		return fmt.Errorf("persisting quote for %s: %w", symbol, err)
	}
	point := types.PricePoint{Symbol: symbol, Price: next, Ts: snapshot.LastUpdated}
	if err := e.repo.AppendHistory(ctx, point); err != nil {
		return fmt.Errorf("appending price history for %s: %w", symbol, err)
	}

	e.bus.Publish(events.NewPriceUpdateEvent(symbol, next, prev))
	return nil
}

// nextPrice implements the §4.3 formula exactly:
//
//	delta = current * volatility * dir * log(1 + qty/100) * (1 + (rand-0.5)*0.002) * impactFactor
//	next  = max(0.01, current + delta)
func nextPrice(current decimal.Decimal, volatility float64, qty int64, isBuy bool, impactFactor float64) decimal.Decimal {
	dir := -1.0
	if isBuy {
		dir = 1.0
	}

	cur, _ := current.Float64()
	jitter := 1 + (rand.Float64()-0.5)*0.002
	delta := cur * volatility * dir * math.Log(1+float64(qty)/100) * jitter * impactFactor

	next := cur + delta
	floor, _ := decimal.NewFromString(PriceFloor)
	floorF, _ := floor.Float64()
	if next < floorF {
		next = floorF
	}

	return decimal.NewFromFloat(next).Round(6)
}

// GetPrice returns the current quote for one symbol.
func (e *Engine) GetPrice(symbol string) (types.Quote, error) {
	st, err := e.state(symbol)
	if err != nil {
		return types.Quote{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.quote, nil
}

// GetPrices returns the current quotes for every known symbol.
func (e *Engine) GetPrices() map[string]types.Quote {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]types.Quote, len(e.symbols))
	for sym, st := range e.symbols {
		st.mu.Lock()
		out[sym] = st.quote
		st.mu.Unlock()
	}
	return out
}

// GetPriceHistory returns history for symbol within [start, end],
// newest-first, capped at limit entries (§4.3).
func (e *Engine) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]types.PricePoint, error) {
	if _, err := e.state(symbol); err != nil {
		return nil, err
	}
	return e.repo.History(ctx, symbol, start, end, limit)
}

// ResetDaily sets open = high = low = current for every symbol, on the
// market-open transition (§4.3).
func (e *Engine) ResetDaily(ctx context.Context) error {
	e.mu.RLock()
	states := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		st.quote.Open = st.quote.Current
		st.quote.High = st.quote.Current
		st.quote.Low = st.quote.Current
		snapshot := st.quote
		st.mu.Unlock()

		if err := e.repo.UpsertStock(ctx, &snapshot); err != nil {
			return fmt.Errorf("persisting daily reset for %s: %w", snapshot.Symbol, err)
		}
	}
	return nil
}
