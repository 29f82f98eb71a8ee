package core

import (
	"strings"
	"time"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side { return -s }

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return 0, false
	}
}

type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

func ParseOrderType(s string) (OrderType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return Limit, true
	case "market":
		return Market, true
	default:
		return 0, false
	}
}

// OrderStatus is the lifecycle state of an order held by the engine.
type OrderStatus int8

const (
	StatusOpen OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Order is owned by the matching engine once accepted. Everything outside the
// engine only ever sees copies.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           OrderType
	Price          int64 // integer ticks, 0 for market orders
	Qty            int64 // remaining lots
	OrigQty        int64 // lots at acceptance
	Timestamp      time.Time
	Status         OrderStatus
	IdempotencyKey string
}

// Filled returns the executed quantity in lots.
func (o *Order) Filled() int64 { return o.OrigQty - o.Qty }

// Closed reports whether the order can no longer trade.
func (o *Order) Closed() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Trade is immutable once created.
type Trade struct {
	ID                string
	Symbol            string
	Price             int64 // ticks
	Qty               int64 // lots
	RestingOrderID    string
	AggressingOrderID string
	AggressorSide     Side
	Timestamp         time.Time
}

type PriceLevel struct {
	Price int64
	Qty   int64 // total qty at this price level
}

// Snapshot is the aggregated book at sequence Seq.
type Snapshot struct {
	Symbol    string
	Seq       uint64
	Bids      []PriceLevel // high to low
	Asks      []PriceLevel // low to high
	Timestamp time.Time
}

// BookDelta carries the new absolute quantity of one price level. Qty 0 removes the level.
type BookDelta struct {
	Side  Side
	Price int64
	Qty   int64
}

type EventKind uint8

const (
	EventBookDelta EventKind = iota + 1
	EventTrade
	EventSnapshot
)

func (k EventKind) String() string {
	switch k {
	case EventBookDelta:
		return "delta"
	case EventTrade:
		return "trade"
	case EventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// MarketEvent is a tagged variant: exactly one of Delta, Trade or Snapshot is set,
// matching Kind. Seq is assigned by the market data hub.
type MarketEvent struct {
	Kind      EventKind
	Symbol    string
	Seq       uint64
	Timestamp time.Time

	Delta    *BookDelta
	Trade    *Trade
	Snapshot *Snapshot
}

func DeltaEvent(symbol string, d BookDelta, ts time.Time) MarketEvent {
	return MarketEvent{Kind: EventBookDelta, Symbol: symbol, Timestamp: ts, Delta: &d}
}

func TradeEvent(t Trade) MarketEvent {
	return MarketEvent{Kind: EventTrade, Symbol: t.Symbol, Timestamp: t.Timestamp, Trade: &t}
}

func SnapshotEvent(s Snapshot) MarketEvent {
	return MarketEvent{Kind: EventSnapshot, Symbol: s.Symbol, Seq: s.Seq, Timestamp: s.Timestamp, Snapshot: &s}
}
