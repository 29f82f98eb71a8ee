package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/metrics"
)

type memSink struct {
	mu      sync.Mutex
	trades  []core.Trade
	orders  []core.Order
	fail    error
	release chan struct{}
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) WriteBatch(_ context.Context, trades []core.Trade, orders []core.Order) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	s.orders = append(s.orders, orders...)
	return s.fail
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	a, b := &memSink{}, &memSink{fail: errors.New("broker down")}
	d := NewDispatcher(16, a, b)
	d.Logger = zaptest.NewLogger(t).Sugar()
	d.Metrics = metrics.New()
	go d.Run(context.Background())

	for i := 0; i < 10; i++ {
		d.Record([]core.Trade{{ID: string(rune('a' + i)), Symbol: "X"}}, []core.Order{{ID: "o"}})
	}
	d.Stop()

	require.Equal(t, 10, a.count())
	for i, tr := range a.trades {
		assert.Equal(t, string(rune('a'+i)), tr.ID)
	}
	// a failing sink does not stop the others
	assert.Equal(t, 10, b.count())

	// after Stop further records are dropped and counted
	d.Record([]core.Trade{{ID: "late"}}, nil)
	assert.Equal(t, 10, a.count())
	assert.Equal(t, 1.0, droppedTrades(t, d.Metrics))
}

func droppedTrades(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "matchgate_recorder_dropped_trades_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestDispatcherStopRacesRecord(t *testing.T) {
	for round := 0; round < 50; round++ {
		sink := &memSink{}
		d := NewDispatcher(1024, sink)
		d.Metrics = metrics.New()
		ctx, cancel := context.WithCancel(context.Background())
		go d.Run(ctx)

		const writers, perWriter = 4, 50
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					d.Record([]core.Trade{{ID: "t"}}, nil)
				}
			}()
		}
		if round%2 == 0 {
			d.Stop()
		} else {
			cancel()
		}
		wg.Wait()
		d.Stop()
		cancel()

		// every batch is either written or counted as dropped
		total := float64(sink.count()) + droppedTrades(t, d.Metrics)
		require.Equal(t, float64(writers*perWriter), total, "round %d", round)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &memSink{release: make(chan struct{})}
	d := NewDispatcher(2, sink)
	d.Logger = zaptest.NewLogger(t).Sugar()
	go d.Run(context.Background())

	// first batch blocks the worker inside the sink, two more fill the queue
	d.Record([]core.Trade{{ID: "1"}}, nil)
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Record([]core.Trade{{ID: "2"}}, nil)
	d.Record([]core.Trade{{ID: "3"}}, nil)

	done := make(chan struct{})
	go func() {
		d.Record([]core.Trade{{ID: "dropped"}}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(sink.release)
	d.Stop()
	assert.Equal(t, 3, sink.count())
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherMessages(t *testing.T) {
	reg, err := market.NewRegistry(&market.Market{
		Symbol: "BTC", BaseAsset: "BTC", QuoteAsset: "USD",
		TickSize: decimal.RequireFromString("0.5"), LotSize: decimal.RequireFromString("0.001"),
		MinPrice: decimal.NewFromInt(1), MaxPrice: decimal.NewFromInt(1_000_000),
	})
	require.NoError(t, err)

	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, registry: reg}

	ts := time.UnixMilli(1_700_000_000_123)
	err = p.WriteBatch(context.Background(), []core.Trade{{
		ID: "t1", Symbol: "BTC", Price: 200_001, Qty: 1500,
		RestingOrderID: "m", AggressingOrderID: "a", AggressorSide: core.Buy, Timestamp: ts,
	}}, nil)
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("BTC"), w.msgs[0].Key)

	var msg tradeMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, "100000.5", msg.Price)
	assert.Equal(t, "1.5", msg.Quantity)
	assert.Equal(t, "buy", msg.AggressorSide)
	assert.Equal(t, ts.UnixMilli(), msg.Timestamp)

	// orders alone produce nothing
	require.NoError(t, p.WriteBatch(context.Background(), nil, []core.Order{{ID: "o"}}))
	assert.Len(t, w.msgs, 1)

	err = p.WriteBatch(context.Background(), []core.Trade{{ID: "t2", Symbol: "ETH"}}, nil)
	assert.ErrorIs(t, err, core.ErrUnknownSymbol)
}
