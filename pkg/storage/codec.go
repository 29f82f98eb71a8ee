package storage

import (
	"encoding/json"
	"time"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

// tradeRecord is the stored form of a trade. Prices and quantities stay in
// ticks and lots; the store does not know market parameters.
type tradeRecord struct {
	ID                string    `json:"id"`
	Symbol            string    `json:"symbol"`
	Price             int64     `json:"price"`
	Qty               int64     `json:"qty"`
	RestingOrderID    string    `json:"restingOrderId"`
	AggressingOrderID string    `json:"aggressingOrderId"`
	AggressorSide     string    `json:"aggressorSide"`
	Timestamp         time.Time `json:"timestamp"`
}

type orderRecord struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Price          int64     `json:"price"`
	Qty            int64     `json:"qty"`
	OrigQty        int64     `json:"origQty"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Timestamp      time.Time `json:"timestamp"`
}

func encodeTrade(t core.Trade) ([]byte, error) {
	return json.Marshal(tradeRecord{
		ID:                t.ID,
		Symbol:            t.Symbol,
		Price:             t.Price,
		Qty:               t.Qty,
		RestingOrderID:    t.RestingOrderID,
		AggressingOrderID: t.AggressingOrderID,
		AggressorSide:     t.AggressorSide.String(),
		Timestamp:         t.Timestamp,
	})
}

func decodeTrade(b []byte) (core.Trade, error) {
	var r tradeRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return core.Trade{}, err
	}
	side, _ := core.ParseSide(r.AggressorSide)
	return core.Trade{
		ID:                r.ID,
		Symbol:            r.Symbol,
		Price:             r.Price,
		Qty:               r.Qty,
		RestingOrderID:    r.RestingOrderID,
		AggressingOrderID: r.AggressingOrderID,
		AggressorSide:     side,
		Timestamp:         r.Timestamp,
	}, nil
}

func encodeOrder(o core.Order) ([]byte, error) {
	return json.Marshal(orderRecord{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           o.Side.String(),
		Type:           o.Type.String(),
		Price:          o.Price,
		Qty:            o.Qty,
		OrigQty:        o.OrigQty,
		Status:         o.Status.String(),
		IdempotencyKey: o.IdempotencyKey,
		Timestamp:      o.Timestamp,
	})
}

func decodeOrder(b []byte) (core.Order, error) {
	var r orderRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return core.Order{}, err
	}
	side, _ := core.ParseSide(r.Side)
	typ, _ := core.ParseOrderType(r.Type)
	return core.Order{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Side:           side,
		Type:           typ,
		Price:          r.Price,
		Qty:            r.Qty,
		OrigQty:        r.OrigQty,
		Status:         parseStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey,
		Timestamp:      r.Timestamp,
	}, nil
}

func parseStatus(s string) core.OrderStatus {
	for st := core.StatusOpen; st <= core.StatusRejected; st++ {
		if st.String() == s {
			return st
		}
	}
	return core.StatusOpen
}
