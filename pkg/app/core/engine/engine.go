package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchgate/pkg/app/core/validator"
	"github.com/uhyunpark/matchgate/pkg/metrics"
	"github.com/uhyunpark/matchgate/pkg/util"
)

// EventSink receives the market data events of one symbol in the order they
// happened. Publish is called from inside the symbol's matching domain and must
// not block.
type EventSink interface {
	Publish(symbol string, events ...core.MarketEvent)
}

// Recorder receives executed trades and the order states they changed, for
// journaling off the matching path. Record must not block.
type Recorder interface {
	Record(trades []core.Trade, orders []core.Order)
}

// MatchResult is the outcome of one submission. Order is a copy taken when
// matching settled.
type MatchResult struct {
	Order  core.Order
	Trades []core.Trade
}

type Config struct {
	// ClosedOrderRetention bounds how many filled, cancelled or rejected orders
	// per symbol stay queryable. Zero keeps none.
	ClosedOrderRetention int
	// TradeHistory bounds the in-memory recent trades per symbol.
	TradeHistory int
}

func DefaultConfig() Config {
	return Config{ClosedOrderRetention: 100_000, TradeHistory: 1000}
}

// Engine owns one order book per registered symbol. All operations on a symbol
// are serialized through that symbol's semaphore; different symbols never
// contend.
type Engine struct {
	Logger   *zap.SugaredLogger
	Events   EventSink
	Recorder Recorder
	Metrics  *metrics.Metrics
	Clock    util.Clock

	books map[string]*symbolBook // fixed at construction
	index sync.Map               // order id -> *symbolBook

	// plan computes fills without mutating the book; replaced in tests to
	// simulate a fault.
	plan func(ob *orderbook.OrderBook, o *core.Order) []orderbook.Fill
}

func New(reg *market.Registry, cfg Config) *Engine {
	e := &Engine{
		Logger: zap.NewNop().Sugar(),
		Clock:  util.RealClock{},
		books:  make(map[string]*symbolBook, reg.Count()),
		plan:   (*orderbook.OrderBook).Plan,
	}
	for _, sym := range reg.Symbols() {
		e.books[sym] = newSymbolBook(sym, cfg)
	}
	return e
}

func (e *Engine) book(symbol string) (*symbolBook, error) {
	sb, ok := e.books[symbol]
	if !ok {
		return nil, core.Reject(core.ErrUnknownSymbol, "symbol %q is not listed", symbol)
	}
	return sb, nil
}

// Submit matches a validated order against its symbol's book.
//
// A limit remainder rests. A market remainder is killed and the call returns
// ErrNoLiquidity alongside the result; the order is rejected when nothing
// filled and partially_filled otherwise.
func (e *Engine) Submit(ctx context.Context, vo *validator.ValidOrder) (*MatchResult, error) {
	sb, err := e.book(vo.Market.Symbol)
	if err != nil {
		return nil, err
	}
	if err := sb.lock(ctx); err != nil {
		return nil, err
	}
	defer sb.unlock()

	// matching never touches the order's own side, so this is the level it would join
	if vo.Type == core.Limit && sb.book.LevelQty(vo.Side, vo.Price) > math.MaxInt64-vo.Qty {
		return nil, core.Reject(core.ErrInvalidQuantity, "level %d on %s side cannot hold %d more lots", vo.Price, vo.Side, vo.Qty)
	}

	start := time.Now()
	now := e.Clock.Now()
	o := &core.Order{
		ID:             newID(),
		Symbol:         sb.symbol,
		Side:           vo.Side,
		Type:           vo.Type,
		Price:          vo.Price,
		Qty:            vo.Qty,
		OrigQty:        vo.Qty,
		Timestamp:      now,
		Status:         core.StatusOpen,
		IdempotencyKey: vo.IdempotencyKey,
	}
	e.index.Store(o.ID, sb)
	sb.orders[o.ID] = o

	fills, err := e.safePlan(sb.book, o)
	if err != nil {
		o.Status = core.StatusRejected
		sb.retire(e, o)
		e.record(nil, []core.Order{*o})
		e.Logger.Errorw("operator_alert_match_fault",
			"symbol", sb.symbol, "order_id", o.ID, "side", o.Side, "price", o.Price, "qty", o.Qty, "err", err)
		e.Metrics.OrderProcessed(sb.symbol, o.Status.String(), time.Since(start))
		return &MatchResult{Order: *o}, err
	}

	if o.Type == core.Market && len(fills) == 0 {
		o.Status = core.StatusRejected
		sb.retire(e, o)
		e.record(nil, []core.Order{*o})
		e.Metrics.OrderProcessed(sb.symbol, o.Status.String(), time.Since(start))
		e.Logger.Debugw("order_no_liquidity", "symbol", sb.symbol, "order_id", o.ID, "qty", o.Qty)
		return &MatchResult{Order: *o}, core.Reject(core.ErrNoLiquidity, "no resting %s liquidity for %s", o.Side.Opposite(), sb.symbol)
	}

	deltas := sb.book.Apply(o, fills)

	trades := make([]core.Trade, 0, len(fills))
	touched := make([]core.Order, 0, len(fills)+1)
	events := make([]core.MarketEvent, 0, 2*len(fills)+1)
	for i, f := range fills {
		t := core.Trade{
			ID:                newID(),
			Symbol:            sb.symbol,
			Price:             f.Price,
			Qty:               f.Qty,
			RestingOrderID:    f.Maker.ID,
			AggressingOrderID: o.ID,
			AggressorSide:     o.Side,
			Timestamp:         now,
		}
		trades = append(trades, t)
		sb.trades.add(t)
		events = append(events, core.TradeEvent(t), core.DeltaEvent(sb.symbol, deltas[i], now))
		touched = append(touched, *f.Maker)
		if f.Maker.Status == core.StatusFilled {
			sb.retire(e, f.Maker)
		}
		e.Metrics.Traded(sb.symbol, f.Qty)
	}

	var result error
	switch {
	case o.Qty == 0:
		o.Status = core.StatusFilled
		sb.retire(e, o)
	case o.Type == core.Limit:
		if o.Filled() > 0 {
			o.Status = core.StatusPartiallyFilled
		}
		events = append(events, core.DeltaEvent(sb.symbol, sb.book.Rest(o), now))
	default:
		// market remainder is killed
		o.Status = core.StatusPartiallyFilled
		sb.retire(e, o)
		result = core.Reject(core.ErrNoLiquidity, "%d of %d lots unfilled, remainder cancelled", o.Qty, o.OrigQty)
	}
	touched = append(touched, *o)

	e.publish(sb.symbol, events)
	if len(trades) > 0 || o.Closed() {
		e.record(trades, touched)
	}
	e.Metrics.OrderProcessed(sb.symbol, o.Status.String(), time.Since(start))

	if len(trades) > 0 {
		e.Logger.Debugw("order_matched",
			"symbol", sb.symbol, "order_id", o.ID, "trades", len(trades), "filled", o.Filled(), "status", o.Status)
	}
	return &MatchResult{Order: *o, Trades: trades}, result
}

// Cancel removes the remainder of a resting order. An order that fully filled
// reports ErrAlreadyFilled; anything else not resting reports ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, orderID string) (core.Order, error) {
	v, ok := e.index.Load(orderID)
	if !ok {
		return core.Order{}, core.Reject(core.ErrNotFound, "order %q not found", orderID)
	}
	sb := v.(*symbolBook)
	if err := sb.lock(ctx); err != nil {
		return core.Order{}, err
	}
	defer sb.unlock()

	o, ok := sb.orders[orderID]
	if !ok {
		return core.Order{}, core.Reject(core.ErrNotFound, "order %q not found", orderID)
	}

	removed, delta, ok := sb.book.Remove(orderID)
	if !ok {
		if o.Status == core.StatusFilled {
			return *o, core.Reject(core.ErrAlreadyFilled, "order %q already filled", orderID)
		}
		return *o, core.Reject(core.ErrNotFound, "order %q is not resting", orderID)
	}

	removed.Status = core.StatusCancelled
	sb.retire(e, removed)
	now := e.Clock.Now()
	e.publish(sb.symbol, []core.MarketEvent{core.DeltaEvent(sb.symbol, delta, now)})
	e.record(nil, []core.Order{*removed})
	e.Logger.Debugw("order_cancelled", "symbol", sb.symbol, "order_id", orderID, "remaining", removed.Qty)
	return *removed, nil
}

// Order returns a copy of a resting or recently closed order.
func (e *Engine) Order(ctx context.Context, orderID string) (core.Order, error) {
	v, ok := e.index.Load(orderID)
	if !ok {
		return core.Order{}, core.Reject(core.ErrNotFound, "order %q not found", orderID)
	}
	sb := v.(*symbolBook)
	if err := sb.lock(ctx); err != nil {
		return core.Order{}, err
	}
	defer sb.unlock()

	o, ok := sb.orders[orderID]
	if !ok {
		return core.Order{}, core.Reject(core.ErrNotFound, "order %q not found", orderID)
	}
	return *o, nil
}

// Book returns the aggregated levels of symbol read directly from the book.
func (e *Engine) Book(ctx context.Context, symbol string) (core.Snapshot, error) {
	sb, err := e.book(symbol)
	if err != nil {
		return core.Snapshot{}, err
	}
	if err := sb.lock(ctx); err != nil {
		return core.Snapshot{}, err
	}
	defer sb.unlock()

	return core.Snapshot{
		Symbol:    symbol,
		Bids:      sb.book.BidLevels(),
		Asks:      sb.book.AskLevels(),
		Timestamp: e.Clock.Now(),
	}, nil
}

// RecentTrades returns up to limit trades of symbol, newest first.
func (e *Engine) RecentTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	sb, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	if err := sb.lock(ctx); err != nil {
		return nil, err
	}
	defer sb.unlock()

	return sb.trades.recent(limit), nil
}

func (e *Engine) record(trades []core.Trade, orders []core.Order) {
	if e.Recorder != nil {
		e.Recorder.Record(trades, orders)
	}
}

func (e *Engine) publish(symbol string, events []core.MarketEvent) {
	if e.Events == nil || len(events) == 0 {
		return
	}
	e.Events.Publish(symbol, events...)
}

// safePlan turns a panic while planning into ErrInternal. Planning never
// mutates the book, so a fault leaves it exactly as it was.
func (e *Engine) safePlan(ob *orderbook.OrderBook, o *core.Order) (fills []orderbook.Fill, err error) {
	defer func() {
		if r := recover(); r != nil {
			fills = nil
			err = core.Reject(core.ErrInternal, "matching fault: %v", r)
		}
	}()
	fills = e.plan(ob, o)

	var total int64
	for _, f := range fills {
		if f.Qty <= 0 || f.Qty > f.Maker.Qty {
			return nil, core.Reject(core.ErrInternal, "invalid fill of %d against %s", f.Qty, f.Maker.ID)
		}
		total += f.Qty
	}
	if total > o.Qty {
		return nil, core.Reject(core.ErrInternal, "planned %d lots for an order of %d", total, o.Qty)
	}
	return fills, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// String implements fmt.Stringer for log fields.
func (r *MatchResult) String() string {
	return fmt.Sprintf("%s %s filled=%d/%d trades=%d", r.Order.ID, r.Order.Status, r.Order.Filled(), r.Order.OrigQty, len(r.Trades))
}
