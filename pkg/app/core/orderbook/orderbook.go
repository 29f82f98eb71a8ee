package orderbook

import (
	"github.com/uhyunpark/matchgate/pkg/app/core"
)

// Fill is one planned match between the incoming order and a resting maker.
type Fill struct {
	Maker *core.Order
	Price int64 // always the maker's price
	Qty   int64
}

type level struct {
	orders []*core.Order // FIFO: earliest accepted first
	qty    int64         // total remaining qty at this price
}

// OrderBook is the price-time priority book of a single symbol.
//
// It is not safe for concurrent use: the engine serializes every call for a
// symbol inside that symbol's exclusion domain.
type OrderBook struct {
	Symbol string

	bids ladder
	asks ladder

	// Price level queues (FIFO matching at each price)
	bidLevels map[int64]*level
	askLevels map[int64]*level

	// resting order index for cancellation
	index map[string]*core.Order

	lastPrice int64 // most recent fill price
}

func New(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:    symbol,
		bids:      ladder{bids: true},
		asks:      ladder{bids: false},
		bidLevels: make(map[int64]*level),
		askLevels: make(map[int64]*level),
		index:     make(map[string]*core.Order),
	}
}

func (ob *OrderBook) side(s core.Side) (*ladder, map[int64]*level) {
	if s == core.Buy {
		return &ob.bids, ob.bidLevels
	}
	return &ob.asks, ob.askLevels
}

// crosses reports whether an incoming order on side s with price p can trade
// against a resting price rp. Market orders (p == 0) cross any price.
func crosses(s core.Side, p, rp int64) bool {
	if p == 0 {
		return true
	}
	if s == core.Buy {
		return rp <= p
	}
	return rp >= p
}

// Plan walks the opposite side best price first and returns the fills the order
// would produce, without touching the book. Each fill consumes the lesser of the
// two remaining quantities at the resting order's price.
func (ob *OrderBook) Plan(o *core.Order) []Fill {
	lad, levels := ob.side(o.Side.Opposite())
	remaining := o.Qty

	var fills []Fill
	lad.each(func(p int64) bool {
		if remaining == 0 || !crosses(o.Side, o.Price, p) {
			return false
		}
		for _, maker := range levels[p].orders {
			if remaining == 0 {
				break
			}
			match := min(remaining, maker.Qty)
			fills = append(fills, Fill{Maker: maker, Price: p, Qty: match})
			remaining -= match
		}
		return true
	})
	return fills
}

// Apply executes fills produced by Plan for taker against the current book.
// It returns the new absolute quantity of the maker level after each fill.
func (ob *OrderBook) Apply(taker *core.Order, fills []Fill) []core.BookDelta {
	makerSide := taker.Side.Opposite()
	lad, levels := ob.side(makerSide)

	deltas := make([]core.BookDelta, 0, len(fills))
	for _, f := range fills {
		lvl := levels[f.Price]

		f.Maker.Qty -= f.Qty
		taker.Qty -= f.Qty
		lvl.qty -= f.Qty
		ob.lastPrice = f.Price

		if f.Maker.Qty == 0 {
			f.Maker.Status = core.StatusFilled
			// a planned maker is always at the head of its level
			lvl.orders[0] = nil
			lvl.orders = lvl.orders[1:]
			delete(ob.index, f.Maker.ID)
		} else {
			f.Maker.Status = core.StatusPartiallyFilled
		}

		if len(lvl.orders) == 0 {
			delete(levels, f.Price)
			lad.remove(f.Price)
		}
		deltas = append(deltas, core.BookDelta{Side: makerSide, Price: f.Price, Qty: lvl.qty})
	}
	return deltas
}

// Rest appends o to the back of its price level.
func (ob *OrderBook) Rest(o *core.Order) core.BookDelta {
	lad, levels := ob.side(o.Side)

	lvl, ok := levels[o.Price]
	if !ok {
		lvl = &level{}
		levels[o.Price] = lvl
		lad.insert(o.Price)
	}
	lvl.orders = append(lvl.orders, o)
	lvl.qty += o.Qty
	ob.index[o.ID] = o

	return core.BookDelta{Side: o.Side, Price: o.Price, Qty: lvl.qty}
}

// Remove takes a resting order out of the book.
func (ob *OrderBook) Remove(id string) (*core.Order, core.BookDelta, bool) {
	o, ok := ob.index[id]
	if !ok {
		return nil, core.BookDelta{}, false
	}
	lad, levels := ob.side(o.Side)
	lvl := levels[o.Price]

	for i, resting := range lvl.orders {
		if resting == o {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	lvl.qty -= o.Qty
	delete(ob.index, id)

	if len(lvl.orders) == 0 {
		delete(levels, o.Price)
		lad.remove(o.Price)
	}
	return o, core.BookDelta{Side: o.Side, Price: o.Price, Qty: lvl.qty}, true
}

// Get returns a resting order.
func (ob *OrderBook) Get(id string) (*core.Order, bool) {
	o, ok := ob.index[id]
	return o, ok
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.index) }

// BestBid returns the highest bid price
func (ob *OrderBook) BestBid() (int64, bool) { return ob.bids.best() }

// BestAsk returns the lowest ask price
func (ob *OrderBook) BestAsk() (int64, bool) { return ob.asks.best() }

// Crossed reports a book where best bid >= best ask, which matching must never leave behind.
func (ob *OrderBook) Crossed() bool {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	return okB && okA && bid >= ask
}

// LastPrice returns the price of the most recent fill, 0 before any trade.
func (ob *OrderBook) LastPrice() int64 { return ob.lastPrice }

// LevelQty returns the aggregated qty resting at price on side s.
func (ob *OrderBook) LevelQty(s core.Side, price int64) int64 {
	_, levels := ob.side(s)
	if lvl, ok := levels[price]; ok {
		return lvl.qty
	}
	return 0
}

// Queue returns copies of the orders resting at price in priority order.
func (ob *OrderBook) Queue(s core.Side, price int64) []core.Order {
	_, levels := ob.side(s)
	lvl, ok := levels[price]
	if !ok {
		return nil
	}
	out := make([]core.Order, len(lvl.orders))
	for i, o := range lvl.orders {
		out[i] = *o
	}
	return out
}

// BidLevels returns all bid price levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels() []core.PriceLevel {
	return ob.levels(&ob.bids, ob.bidLevels)
}

// AskLevels returns all ask price levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels() []core.PriceLevel {
	return ob.levels(&ob.asks, ob.askLevels)
}

func (ob *OrderBook) levels(lad *ladder, levels map[int64]*level) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, lad.len())
	lad.each(func(p int64) bool {
		out = append(out, core.PriceLevel{Price: p, Qty: levels[p].qty})
		return true
	})
	return out
}
