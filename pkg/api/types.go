package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
)

// API request and response types for REST endpoints and WebSocket messages.
// Prices and quantities leave the engine as integer ticks/lots and are
// converted back to decimals here using the symbol's tick and lot size.

// Number is a decimal encoded as a bare JSON number.
type Number decimal.Decimal

func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

// Level is a [price, quantity] pair.
type Level [2]Number

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders and POST /place_order/.
type PlaceOrderRequest struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`  // "buy" or "sell"
	Type           string           `json:"type"`  // "limit" or "market"
	Price          *decimal.Decimal `json:"price"` // omitted for market orders
	Quantity       *decimal.Decimal `json:"quantity"`
	IdempotencyKey string           `json:"idempotency_key"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	Symbol      string `json:"symbol"`
	BaseAsset   string `json:"baseAsset"`
	QuoteAsset  string `json:"quoteAsset"`
	TickSize    Number `json:"tickSize"`
	LotSize     Number `json:"lotSize"`
	MinPrice    Number `json:"minPrice"`
	MaxPrice    Number `json:"maxPrice"`
	MaxQuantity Number `json:"maxQuantity"` // 0 = unlimited
}

// PlaceOrderResponse is the outcome of an order request.
type PlaceOrderResponse struct {
	OrderID string      `json:"order_id"`
	Status  string      `json:"status"` // "accepted", "rejected", "filled", "partially_filled"
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
	Trades  []TradeInfo `json:"trades"`
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	ID                string `json:"trade_id"`
	Symbol            string `json:"symbol"`
	Price             Number `json:"price"`
	Quantity          Number `json:"quantity"`
	RestingOrderID    string `json:"resting_order_id"`
	AggressingOrderID string `json:"aggressing_order_id"`
	Side              string `json:"side"`      // aggressor side
	Timestamp         int64  `json:"timestamp"` // Unix milliseconds
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	OrderID          string  `json:"order_id"`
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Type             string  `json:"type"`
	Price            *Number `json:"price,omitempty"`
	Quantity         Number  `json:"quantity"` // remaining
	OriginalQuantity Number  `json:"original_quantity"`
	Filled           Number  `json:"filled"`
	Status           string  `json:"status"` // "open", "partially_filled", "filled", "cancelled", "rejected"
	Timestamp        int64   `json:"timestamp"`
}

// OrderbookSnapshot is a book aggregated by price level at a sequence number.
type OrderbookSnapshot struct {
	Symbol    string  `json:"symbol"`
	Sequence  uint64  `json:"sequence"`
	Bids      []Level `json:"bids"` // Sorted high to low
	Asks      []Level `json:"asks"` // Sorted low to high
	Timestamp int64   `json:"timestamp"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSRequest is sent by the client.
type WSRequest struct {
	Op      string            `json:"op"` // "subscribe", "unsubscribe" or "ping"
	Symbols []string          `json:"symbols"`
	FromSeq map[string]uint64 `json:"fromSeq,omitempty"` // resume after these sequence numbers
}

// WSSnapshot starts (or restarts) a symbol's stream; deltas follow from Seq+1.
type WSSnapshot struct {
	Type      string  `json:"type"` // "snapshot"
	Symbol    string  `json:"symbol"`
	Seq       uint64  `json:"seq"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	Timestamp int64   `json:"timestamp"`
}

// WSDelta carries the new total quantity of one price level; 0 removes it.
type WSDelta struct {
	Type      string `json:"type"` // "delta"
	Symbol    string `json:"symbol"`
	Seq       uint64 `json:"seq"`
	Side      string `json:"side"`
	Price     Number `json:"price"`
	Quantity  Number `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

type WSTrade struct {
	Type   string `json:"type"` // "trade"
	Symbol string `json:"symbol"`
	Seq    uint64 `json:"seq"`
	TradeInfo
}

// WSMessage is a control frame: "error" or "pong".
type WSMessage struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// Conversions
// ==============================

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:      m.Symbol,
		BaseAsset:   m.BaseAsset,
		QuoteAsset:  m.QuoteAsset,
		TickSize:    Number(m.TickSize),
		LotSize:     Number(m.LotSize),
		MinPrice:    Number(m.MinPrice),
		MaxPrice:    Number(m.MaxPrice),
		MaxQuantity: Number(m.MaxQuantity),
	}
}

func tradeInfo(m *market.Market, t core.Trade) TradeInfo {
	return TradeInfo{
		ID:                t.ID,
		Symbol:            t.Symbol,
		Price:             Number(m.TicksToPrice(t.Price)),
		Quantity:          Number(m.LotsToQty(t.Qty)),
		RestingOrderID:    t.RestingOrderID,
		AggressingOrderID: t.AggressingOrderID,
		Side:              t.AggressorSide.String(),
		Timestamp:         t.Timestamp.UnixMilli(),
	}
}

func tradeInfos(m *market.Market, trades []core.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(m, t)
	}
	return out
}

func orderInfo(m *market.Market, o core.Order) OrderInfo {
	info := OrderInfo{
		OrderID:          o.ID,
		Symbol:           o.Symbol,
		Side:             o.Side.String(),
		Type:             o.Type.String(),
		Quantity:         Number(m.LotsToQty(o.Qty)),
		OriginalQuantity: Number(m.LotsToQty(o.OrigQty)),
		Filled:           Number(m.LotsToQty(o.Filled())),
		Status:           o.Status.String(),
		Timestamp:        o.Timestamp.UnixMilli(),
	}
	if o.Type == core.Limit {
		p := Number(m.TicksToPrice(o.Price))
		info.Price = &p
	}
	return info
}

func levels(m *market.Market, in []core.PriceLevel) []Level {
	out := make([]Level, len(in))
	for i, l := range in {
		out[i] = Level{Number(m.TicksToPrice(l.Price)), Number(m.LotsToQty(l.Qty))}
	}
	return out
}

func orderbookSnapshot(m *market.Market, s core.Snapshot) OrderbookSnapshot {
	return OrderbookSnapshot{
		Symbol:    s.Symbol,
		Sequence:  s.Seq,
		Bids:      levels(m, s.Bids),
		Asks:      levels(m, s.Asks),
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

// wsEvent converts a sequenced market data event into its wire frame.
func wsEvent(m *market.Market, ev core.MarketEvent) any {
	switch ev.Kind {
	case core.EventSnapshot:
		return WSSnapshot{
			Type:      "snapshot",
			Symbol:    ev.Symbol,
			Seq:       ev.Seq,
			Bids:      levels(m, ev.Snapshot.Bids),
			Asks:      levels(m, ev.Snapshot.Asks),
			Timestamp: ev.Timestamp.UnixMilli(),
		}
	case core.EventBookDelta:
		return WSDelta{
			Type:      "delta",
			Symbol:    ev.Symbol,
			Seq:       ev.Seq,
			Side:      ev.Delta.Side.String(),
			Price:     Number(m.TicksToPrice(ev.Delta.Price)),
			Quantity:  Number(m.LotsToQty(ev.Delta.Qty)),
			Timestamp: ev.Timestamp.UnixMilli(),
		}
	default:
		return WSTrade{Type: "trade", Symbol: ev.Symbol, Seq: ev.Seq, TradeInfo: tradeInfo(m, *ev.Trade)}
	}
}
