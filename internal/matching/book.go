package matching

import (
	"container/list"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// priceLevel holds every order resting at one limit price, in arrival
// (FIFO) order.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *Order
}

// bookEntry locates a live order so Cancel and fill-removal are O(1)
// once the order id is known, instead of scanning a price level.
type bookEntry struct {
	order *Order
	level *priceLevel   // nil for a market order
	elem  *list.Element // element within level.orders or the market queue
}

// OrderBook is the price-time priority book for a single symbol. It is
// never accessed concurrently — the owning symbol worker is the only
// goroutine that touches it (§4.1, §5).
type OrderBook struct {
	Symbol string

	bids *btree.BTreeG[*priceLevel] // ordered best-first: highest price first
	asks *btree.BTreeG[*priceLevel] // ordered best-first: lowest price first

	marketBuys  *list.List // FIFO of *Order, infinitely aggressive bids
	marketSells *list.List // FIFO of *Order, infinitely aggressive asks

	entries map[uuid.UUID]*bookEntry
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: btree.NewG(32, func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price) // descending: best (highest) bid first
		}),
		asks: btree.NewG(32, func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price) // ascending: best (lowest) ask first
		}),
		marketBuys:  list.New(),
		marketSells: list.New(),
		entries:     make(map[uuid.UUID]*bookEntry),
	}
}

func (b *OrderBook) sideTree(side bool) *btree.BTreeG[*priceLevel] {
	if side {
		return b.bids
	}
	return b.asks
}

// insert places order on its side of the book.
func (b *OrderBook) insert(o *Order) {
	isBuy := o.Side == "BUY"

	if o.IsMarket() {
		q := b.marketSells
		if isBuy {
			q = b.marketBuys
		}
		elem := q.PushBack(o)
		b.entries[o.ID] = &bookEntry{order: o, elem: elem}
		return
	}

	tree := b.sideTree(isBuy)
	probe := &priceLevel{price: o.LimitPrice}
	lvl, ok := tree.Get(probe)
	if !ok {
		lvl = &priceLevel{price: o.LimitPrice, orders: list.New()}
		tree.ReplaceOrInsert(lvl)
	}
	elem := lvl.orders.PushBack(o)
	b.entries[o.ID] = &bookEntry{order: o, level: lvl, elem: elem}
}

// remove deletes order from the book entirely (used on fill-to-zero and
// on cancel).
func (b *OrderBook) remove(o *Order) {
	entry, ok := b.entries[o.ID]
	if !ok {
		return
	}
	delete(b.entries, o.ID)

	if entry.level == nil {
		if o.Side == "BUY" {
			b.marketBuys.Remove(entry.elem)
		} else {
			b.marketSells.Remove(entry.elem)
		}
		return
	}

	entry.level.orders.Remove(entry.elem)
	if entry.level.orders.Len() == 0 {
		tree := b.sideTree(o.Side == "BUY")
		tree.Delete(entry.level)
	}
}

// bestBid returns the highest-priority resting buy order, or nil.
func (b *OrderBook) bestBid() *Order {
	if e := b.marketBuys.Front(); e != nil {
		return e.Value.(*Order)
	}
	var found *Order
	b.bids.Ascend(func(lvl *priceLevel) bool {
		found = lvl.orders.Front().Value.(*Order)
		return false
	})
	return found
}

// bestAsk returns the highest-priority resting sell order, or nil.
func (b *OrderBook) bestAsk() *Order {
	if e := b.marketSells.Front(); e != nil {
		return e.Value.(*Order)
	}
	var found *Order
	b.asks.Ascend(func(lvl *priceLevel) bool {
		found = lvl.orders.Front().Value.(*Order)
		return false
	})
	return found
}

// DepthLevel is one row of an order book depth snapshot (§4.1 GetOrderBook).
type DepthLevel struct {
	Price decimal.Decimal
	Qty   int64
	Count int
}

// Depth returns price-aggregated depth for both sides, best price first.
// Market orders are reported at the special zero price, matching their
// representation everywhere else in the system.
func (b *OrderBook) Depth() (bids, asks []DepthLevel) {
	if b.marketBuys.Len() > 0 {
		bids = append(bids, marketDepth(b.marketBuys))
	}
	b.bids.Ascend(func(lvl *priceLevel) bool {
		bids = append(bids, levelDepth(lvl))
		return true
	})

	if b.marketSells.Len() > 0 {
		asks = append(asks, marketDepth(b.marketSells))
	}
	b.asks.Ascend(func(lvl *priceLevel) bool {
		asks = append(asks, levelDepth(lvl))
		return true
	})

	return bids, asks
}

func levelDepth(lvl *priceLevel) DepthLevel {
	var qty int64
	count := 0
	for e := lvl.orders.Front(); e != nil; e = e.Next() {
		o := e.Value.(*Order)
		qty += o.Remaining()
		count++
	}
	return DepthLevel{Price: lvl.price, Qty: qty, Count: count}
}

func marketDepth(q *list.List) DepthLevel {
	var qty int64
	count := 0
	for e := q.Front(); e != nil; e = e.Next() {
		o := e.Value.(*Order)
		qty += o.Remaining()
		count++
	}
	return DepthLevel{Price: decimal.Zero, Qty: qty, Count: count}
}
