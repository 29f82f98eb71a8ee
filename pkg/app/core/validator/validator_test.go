package validator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/util"
)

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func newTestValidator(t *testing.T, clock util.Clock) *Validator {
	t.Helper()
	reg, err := market.NewRegistry(&market.Market{
		Symbol:      "X",
		BaseAsset:   "X",
		QuoteAsset:  "USD",
		TickSize:    decimal.RequireFromString("0.5"),
		LotSize:     decimal.RequireFromString("1"),
		MinPrice:    decimal.RequireFromString("1"),
		MaxPrice:    decimal.RequireFromString("100"),
		MaxQuantity: decimal.RequireFromString("1000"),
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(reg, NewWindow(time.Minute, 1024, 8, clock))
}

func TestValidate(t *testing.T) {
	v := newTestValidator(t, util.RealClock{})

	tests := []struct {
		name   string
		req    Request
		reason core.Reason
	}{
		{
			name:   "unknown symbol",
			req:    Request{Symbol: "Y", Side: "buy", Type: core.Limit, Price: dec("10"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonUnknownSymbol,
		},
		{
			name:   "unknown symbol wins over bad side",
			req:    Request{Symbol: "Y", Side: "hold", Type: core.Limit, Price: dec("10"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonUnknownSymbol,
		},
		{
			name:   "bad side",
			req:    Request{Symbol: "X", Side: "hold", Type: core.Limit, Price: dec("10"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidSide,
		},
		{
			name:   "bad side wins over bad quantity",
			req:    Request{Symbol: "X", Side: "", Type: core.Limit, Price: dec("10"), Quantity: *dec("0"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidSide,
		},
		{
			name:   "zero quantity",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("10"), Quantity: *dec("0"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidQuantity,
		},
		{
			name:   "fractional lot",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("10"), Quantity: *dec("1.5"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidQuantity,
		},
		{
			name:   "above max quantity",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("10"), Quantity: *dec("1001"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidQuantity,
		},
		{
			name:   "bad quantity wins over bad price",
			req:    Request{Symbol: "X", Side: "sell", Type: core.Limit, Price: dec("10.3"), Quantity: *dec("-1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidQuantity,
		},
		{
			name:   "off tick",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("10.3"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "negative price",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("-10"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "above max price",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("100.5"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "below min price",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Price: dec("0.5"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "limit without price",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Limit, Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "market with price",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Market, Price: dec("10"), Quantity: *dec("1"), IdempotencyKey: "k1"},
			reason: core.ReasonInvalidPrice,
		},
		{
			name:   "missing key",
			req:    Request{Symbol: "X", Side: "buy", Type: core.Market, Quantity: *dec("1")},
			reason: core.ReasonInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.req)
			if err == nil {
				t.Fatalf("expected %s, got nil", tt.reason)
			}
			if got := core.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %s, want %s (%v)", got, tt.reason, err)
			}
		})
	}

	// none of the rejections above may have burned the key
	vo, err := v.Validate(Request{Symbol: "X", Side: "BUY", Type: core.Limit, Price: dec("10.5"), Quantity: *dec("3"), IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	if vo.Price != 21 || vo.Qty != 3 || vo.Side != core.Buy || vo.Market.Symbol != "X" {
		t.Errorf("unexpected valid order %+v", vo)
	}
}

func TestValidateOutOfRangeUnits(t *testing.T) {
	// no quantity cap, so only the unit range stops oversized orders
	reg, err := market.NewRegistry(&market.Market{
		Symbol:     "U",
		BaseAsset:  "U",
		QuoteAsset: "USD",
		TickSize:   decimal.RequireFromString("1"),
		LotSize:    decimal.RequireFromString("1"),
		MinPrice:   decimal.RequireFromString("1"),
		MaxPrice:   decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	v := New(reg, NewWindow(time.Minute, 1024, 8, util.RealClock{}))

	tests := []struct {
		name   string
		qty    string
		reason core.Reason
	}{
		{name: "wraps to one lot", qty: "18446744073709551617", reason: core.ReasonInvalidQuantity},
		{name: "wraps negative", qty: "9223372036854775808", reason: core.ReasonInvalidQuantity},
		{name: "just above max units", qty: "9007199254740993", reason: core.ReasonInvalidQuantity},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(Request{Symbol: "U", Side: "buy", Type: core.Limit, Price: dec("10"),
				Quantity: *dec(tt.qty), IdempotencyKey: fmt.Sprintf("u%d", i)})
			if got := core.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %s, want %s (%v)", got, tt.reason, err)
			}
		})
	}

	vo, err := v.Validate(Request{Symbol: "U", Side: "buy", Type: core.Limit, Price: dec("10"),
		Quantity: decimal.NewFromInt(market.MaxUnits), IdempotencyKey: "max"})
	if err != nil {
		t.Fatalf("max units rejected: %v", err)
	}
	if vo.Qty != market.MaxUnits {
		t.Errorf("qty = %d, want %d", vo.Qty, market.MaxUnits)
	}
}

func TestValidateDuplicate(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	v := newTestValidator(t, clock)
	req := Request{Symbol: "X", Side: "sell", Type: core.Market, Quantity: *dec("2"), IdempotencyKey: "abc"}

	if _, err := v.Validate(req); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	_, err := v.Validate(req)
	if !errors.Is(err, core.ErrDuplicateRequest) {
		t.Fatalf("second submission: want DuplicateRequest, got %v", err)
	}

	// outside the window the key is accepted again
	clock.Advance(2 * time.Minute)
	if _, err := v.Validate(req); err != nil {
		t.Errorf("key should have expired: %v", err)
	}
}

func TestWindowConcurrentDuplicates(t *testing.T) {
	w := NewWindow(time.Minute, 4096, 16, nil)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Remember("same-key") {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("expected exactly one acceptance, got %d", accepted.Load())
	}
}

func TestWindowCapacityEviction(t *testing.T) {
	// one shard with room for 4 keys
	w := NewWindow(time.Hour, 4, 1, util.NewManualClock(time.Unix(0, 0)))

	for i := 0; i < 6; i++ {
		if !w.Remember(fmt.Sprintf("k%d", i)) {
			t.Fatalf("k%d rejected", i)
		}
	}
	if w.Len() != 4 {
		t.Errorf("window should hold 4 keys, holds %d", w.Len())
	}
	if w.Seen("k0") || w.Seen("k1") {
		t.Errorf("oldest keys should be evicted first")
	}
	if !w.Seen("k5") {
		t.Errorf("newest key missing")
	}
}
