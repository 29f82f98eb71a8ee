package engine

import (
	"context"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/orderbook"
)

// symbolBook is the exclusion domain of one symbol. Everything below sem is
// only touched while holding it.
type symbolBook struct {
	symbol string
	sem    chan struct{} // one slot; acquisition order is processing order

	book   *orderbook.OrderBook
	orders map[string]*core.Order // resting plus retained closed orders

	closed    []string // closed order ids, oldest first
	retention int

	trades tradeLog
}

func newSymbolBook(symbol string, cfg Config) *symbolBook {
	return &symbolBook{
		symbol:    symbol,
		sem:       make(chan struct{}, 1),
		book:      orderbook.New(symbol),
		orders:    make(map[string]*core.Order),
		retention: cfg.ClosedOrderRetention,
		trades:    newTradeLog(cfg.TradeHistory),
	}
}

func (sb *symbolBook) lock(ctx context.Context) error {
	select {
	case sb.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sb *symbolBook) unlock() { <-sb.sem }

// retire marks o as closed and evicts the oldest closed orders beyond retention.
func (sb *symbolBook) retire(e *Engine, o *core.Order) {
	sb.closed = append(sb.closed, o.ID)
	for len(sb.closed) > sb.retention {
		id := sb.closed[0]
		sb.closed[0] = ""
		sb.closed = sb.closed[1:]
		delete(sb.orders, id)
		e.index.Delete(id)
	}
}

// tradeLog is a fixed-size ring of the most recent trades.
type tradeLog struct {
	buf  []core.Trade
	next int
	n    int
}

func newTradeLog(size int) tradeLog {
	if size < 0 {
		size = 0
	}
	return tradeLog{buf: make([]core.Trade, size)}
}

func (l *tradeLog) add(t core.Trade) {
	if len(l.buf) == 0 {
		return
	}
	l.buf[l.next] = t
	l.next = (l.next + 1) % len(l.buf)
	if l.n < len(l.buf) {
		l.n++
	}
}

// recent returns up to limit trades, newest first. limit <= 0 means all held.
func (l *tradeLog) recent(limit int) []core.Trade {
	if limit <= 0 || limit > l.n {
		limit = l.n
	}
	out := make([]core.Trade, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, l.buf[(l.next-i+len(l.buf))%len(l.buf)])
	}
	return out
}
