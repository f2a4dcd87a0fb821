package matching

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradingcore/internal/core/apperr"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/metrics"
	"github.com/marketsim/tradingcore/pkg/types"
)

// Settler applies the downstream effects of one execution (§4.2). The
// matching engine calls it synchronously, in execution order, before
// admitting the next command on the same symbol — it never knows or
// cares how settlement is implemented.
type Settler interface {
	Settle(ctx context.Context, exec *Execution) error
}

// PriceApplier nudges a symbol's price in response to order flow (§4.3).
// The matching engine calls it directly only for the "placed but not
// executed" book-pressure case (impactFactor 0.3); settlement calls it
// separately for each execution (impactFactor 1.0).
type PriceApplier interface {
	Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impactFactor float64) error
}

// Repository persists order state. The matching engine is the sole
// writer of the orders table (§3 Ownership, §9 open question #2).
type Repository interface {
	SaveOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
}

type cmdKind int

const (
	cmdAdmit cmdKind = iota
	cmdCancel
	cmdDepth
)

type command struct {
	ctx        context.Context
	kind       cmdKind
	order      *Order
	cancelID   uuid.UUID
	investorID uuid.UUID
	resultCh   chan result
}

type result struct {
	executions []*Execution
	order      *Order
	bids, asks []DepthLevel
	err        error
}

type symbolWorker struct {
	symbol string
	book   *OrderBook
	cmds   chan *command
}

// Engine is the matching engine: one serialized worker per symbol,
// matching on price-time priority and driving settlement synchronously
// for every execution it produces (§4.1, §5).
type Engine struct {
	mu      sync.Mutex
	workers map[string]*symbolWorker
	stopCh  chan struct{}

	repo    Repository
	bus     *events.EventBus
	settler Settler
	prices  PriceApplier
	metrics *metrics.TradingMetrics
	logger  zerolog.Logger

	seq atomic.Uint64
}

// NewEngine builds a matching engine. SetSettler/SetPriceApplier must be
// called before the first Admit — they close the dependency cycle
// between matching, settlement, and the price engine without an import
// cycle.
func NewEngine(repo Repository, bus *events.EventBus, m *metrics.TradingMetrics, logger zerolog.Logger) *Engine {
	return &Engine{
		workers: make(map[string]*symbolWorker),
		stopCh:  make(chan struct{}),
		repo:    repo,
		bus:     bus,
		metrics: m,
		logger:  logger.With().Str("component", "matching").Logger(),
	}
}

func (e *Engine) SetSettler(s Settler)         { e.settler = s }
func (e *Engine) SetPriceApplier(p PriceApplier) { e.prices = p }

func (e *Engine) worker(symbol string) *symbolWorker {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.workers[symbol]
	if !ok {
		w = &symbolWorker{symbol: symbol, book: NewOrderBook(symbol), cmds: make(chan *command, 256)}
		e.workers[symbol] = w
		go e.run(w)
	}
	return w
}

func (e *Engine) run(w *symbolWorker) {
	for {
		select {
		case cmd := <-w.cmds:
			e.handle(w, cmd)
		case <-e.stopCh:
			return
		}
	}
}

// Stop halts every symbol worker. In-flight commands may be dropped;
// callers should stop issuing new ones first.
func (e *Engine) Stop() {
	close(e.stopCh)
}

func (e *Engine) submit(symbol string, cmd *command) result {
	w := e.worker(symbol)
	cmd.resultCh = make(chan result, 1)

	select {
	case w.cmds <- cmd:
	case <-cmd.ctx.Done():
		return result{err: apperr.Wrap(apperr.KindDeadlineExceeded, "matching engine busy", cmd.ctx.Err())}
	}

	select {
	case r := <-cmd.resultCh:
		return r
	case <-cmd.ctx.Done():
		return result{err: apperr.Wrap(apperr.KindDeadlineExceeded, "admit deadline exceeded", cmd.ctx.Err())}
	}
}

// Admit inserts order into its symbol's book and attempts to match it,
// running settlement synchronously for every execution it produces
// before returning (§4.1 Admit, §4.2 Atomicity).
func (e *Engine) Admit(ctx context.Context, o *Order) ([]*Execution, error) {
	if o.Qty <= 0 {
		return nil, apperr.New(apperr.KindValidation, "quantity must be positive")
	}
	if o.LimitPrice.IsNegative() {
		return nil, apperr.New(apperr.KindValidation, "limit price must not be negative")
	}

	r := e.submit(o.Symbol, &command{ctx: ctx, kind: cmdAdmit, order: o})
	return r.executions, r.err
}

// Cancel removes a resting order from the book if owned by investor and
// not yet terminal (§4.1 Cancel).
func (e *Engine) Cancel(ctx context.Context, symbol string, orderID, investorID uuid.UUID) error {
	r := e.submit(symbol, &command{ctx: ctx, kind: cmdCancel, cancelID: orderID, investorID: investorID})
	return r.err
}

// GetOrderBook returns price-aggregated depth for both sides (§4.1
// GetOrderBook).
func (e *Engine) GetOrderBook(ctx context.Context, symbol string) (bids, asks []DepthLevel, err error) {
	r := e.submit(symbol, &command{ctx: ctx, kind: cmdDepth})
	return r.bids, r.asks, r.err
}

func (e *Engine) handle(w *symbolWorker, cmd *command) {
	var r result
	switch cmd.kind {
	case cmdAdmit:
		r.executions, r.err = e.admit(cmd.ctx, w, cmd.order)
		r.order = cmd.order
	case cmdCancel:
		r.err = e.cancel(cmd.ctx, w, cmd.cancelID, cmd.investorID)
	case cmdDepth:
		r.bids, r.asks = w.book.Depth()
	}
	cmd.resultCh <- r
}

func (e *Engine) admit(ctx context.Context, w *symbolWorker, o *Order) ([]*Execution, error) {
	o.seq = e.seq.Add(1)

	if err := e.repo.SaveOrder(ctx, o); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persisting order", err)
	}

	e.bus.Publish(events.NewOrderPlacedEvent(o.ID, o.InvestorID, o.Symbol, string(o.Side), o.Qty, o.LimitPrice))
	if e.metrics != nil {
		e.metrics.OrdersAdmittedTotal.WithLabelValues(o.Symbol, string(o.Side)).Inc()
	}

	w.book.insert(o)
	execs := e.match(ctx, w)

	if o.Status == types.OrderStatusPending || o.Status == types.OrderStatusPartiallyFilled {
		if err := e.repo.UpdateOrder(ctx, o); err != nil {
			e.logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to persist order progress")
		}
	}

	if len(execs) == 0 && o.Remaining() > 0 && e.prices != nil {
		if err := e.prices.Apply(ctx, o.Symbol, o.Qty, o.Side == types.SideBuy, 0.3); err != nil {
			e.logger.Warn().Err(err).Msg("book-pressure price update failed")
		}
	}

	return execs, nil
}

// match runs the Match(symbol) loop from §4.1 until the book no longer
// crosses, settling each execution inline.
func (e *Engine) match(ctx context.Context, w *symbolWorker) []*Execution {
	var execs []*Execution

	for {
		bid := w.book.bestBid()
		ask := w.book.bestAsk()
		if bid == nil || ask == nil {
			break
		}

		canCross := bid.IsMarket() || ask.IsMarket() || bid.LimitPrice.GreaterThanOrEqual(ask.LimitPrice)
		if !canCross {
			break
		}

		price := executionPrice(bid, ask)
		qty := min64(bid.Remaining(), ask.Remaining())

		exec := &Execution{
			ID:             uuid.New(),
			Symbol:         w.symbol,
			BuyOrderID:     bid.ID,
			SellOrderID:    ask.ID,
			BuyerID:        bid.InvestorID,
			SellerID:       ask.InvestorID,
			Qty:            qty,
			Price:          price,
			AggressorIsBuy: isBuyAggressor(bid, ask),
			Ts:             time.Now(),
		}

		bid.applyFill(qty)
		ask.applyFill(qty)

		if bid.Remaining() == 0 {
			w.book.remove(bid)
		}
		if ask.Remaining() == 0 {
			w.book.remove(ask)
		}

		if e.metrics != nil {
			e.metrics.ExecutionsTotal.WithLabelValues(w.symbol).Inc()
		}

		if e.settler != nil {
			if err := e.settler.Settle(ctx, exec); err != nil {
				e.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("settlement failed")
			}
		}

		for _, o := range []*Order{bid, ask} {
			if err := e.repo.UpdateOrder(ctx, o); err != nil {
				e.logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to persist fill")
			}
		}

		execs = append(execs, exec)
	}

	return execs
}

// executionPrice implements the §4.1 step-4 price rule: if the bid is a
// market order, the resting ask's limit sets the price; if the ask is
// market, the resting bid's limit sets it; if neither is market, the
// ask's price wins the tie-break (resting liquidity provider).
func executionPrice(bid, ask *Order) decimal.Decimal {
	switch {
	case bid.IsMarket():
		return ask.LimitPrice
	case ask.IsMarket():
		return bid.LimitPrice
	default:
		return ask.LimitPrice
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// isBuyAggressor implements the §4.2 aggressor rule: a market order is
// always the aggressor; if neither is market, the later-arrived order
// (higher seq) is.
func isBuyAggressor(bid, ask *Order) bool {
	if bid.IsMarket() {
		return true
	}
	if ask.IsMarket() {
		return false
	}
	return bid.seq > ask.seq
}

func (e *Engine) cancel(ctx context.Context, w *symbolWorker, orderID, investorID uuid.UUID) error {
	entry, ok := w.book.entries[orderID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	o := entry.order
	if o.InvestorID != investorID {
		return apperr.New(apperr.KindConflict, "order not owned by investor")
	}
	if o.Status.Terminal() {
		return apperr.New(apperr.KindConflict, "order already terminal")
	}

	w.book.remove(o)
	o.Status = types.OrderStatusCanceled
	if err := e.repo.UpdateOrder(ctx, o); err != nil {
		return apperr.Wrap(apperr.KindInternal, "persisting cancel", err)
	}

	e.bus.Publish(events.NewOrderCanceledEvent(o.ID, o.Symbol))
	return nil
}
