package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewMemStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTradeLogOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1_700_000_000, 0).UTC()

	var trades []core.Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, core.Trade{
			ID:             fmt.Sprintf("t%d", i),
			Symbol:         "X",
			Price:          int64(100 + i),
			Qty:            1,
			RestingOrderID: "maker", AggressingOrderID: "taker",
			AggressorSide: core.Sell,
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
		})
	}
	// another symbol sharing the prefix must not leak into the scan
	trades = append(trades, core.Trade{ID: "other", Symbol: "XY", Price: 1, Qty: 1, Timestamp: base.Add(time.Hour)})

	if err := s.WriteBatch(context.Background(), trades, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := s.LoadRecentTrades("X", 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if got[i].ID != want {
			t.Errorf("trade %d = %s, want %s", i, got[i].ID, want)
		}
	}
	if got[0].AggressorSide != core.Sell || got[0].Price != 104 || !got[0].Timestamp.Equal(trades[4].Timestamp) {
		t.Errorf("trade did not round trip: %+v", got[0])
	}

	all, _ := s.LoadRecentTrades("X", 0)
	if len(all) != 5 {
		t.Errorf("unbounded load returned %d trades, want 5", len(all))
	}
}

func TestOrderJournalKeepsLatestState(t *testing.T) {
	s := newTestStore(t)
	o := core.Order{
		ID: "o1", Symbol: "X", Side: core.Buy, Type: core.Limit,
		Price: 10, Qty: 100, OrigQty: 100, Status: core.StatusOpen,
		IdempotencyKey: "k", Timestamp: time.Unix(1, 0).UTC(),
	}
	if err := s.SaveOrder(o); err != nil {
		t.Fatal(err)
	}
	o.Qty, o.Status = 50, core.StatusPartiallyFilled
	if err := s.SaveOrder(o); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadOrder("o1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != o {
		t.Errorf("got %+v, want %+v", got, o)
	}

	if _, ok, err := s.LoadOrder("missing"); ok || err != nil {
		t.Errorf("missing order: ok=%v err=%v", ok, err)
	}
}

func TestKeyUpperBound(t *testing.T) {
	if got := string(keyUpperBound([]byte("trade:X:"))); got != "trade:X;" {
		t.Errorf("upper bound = %q", got)
	}
}
