package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
)

// tradeMessage is the published form of a trade, in market units.
type tradeMessage struct {
	ID                string `json:"id"`
	Symbol            string `json:"symbol"`
	Price             string `json:"price"`
	Quantity          string `json:"quantity"`
	RestingOrderID    string `json:"restingOrderId"`
	AggressingOrderID string `json:"aggressingOrderId"`
	AggressorSide     string `json:"aggressorSide"`
	Timestamp         int64  `json:"timestamp"` // unix millis
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes trades to a topic keyed by symbol, so each symbol's
// trades stay ordered within one partition. Orders are not published.
type KafkaPublisher struct {
	writer   messageWriter
	registry *market.Registry
}

func NewKafkaPublisher(brokers []string, topic string, registry *market.Registry) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		registry: registry,
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) WriteBatch(ctx context.Context, trades []core.Trade, _ []core.Order) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		m, err := p.registry.Lookup(t.Symbol)
		if err != nil {
			return err
		}
		val, err := json.Marshal(tradeMessage{
			ID:                t.ID,
			Symbol:            t.Symbol,
			Price:             m.TicksToPrice(t.Price).String(),
			Quantity:          m.LotsToQty(t.Qty).String(),
			RestingOrderID:    t.RestingOrderID,
			AggressingOrderID: t.AggressingOrderID,
			AggressorSide:     t.AggressorSide.String(),
			Timestamp:         t.Timestamp.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("marshal trade %s: %w", t.ID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.Symbol), Value: val, Time: t.Timestamp})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d trades: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
