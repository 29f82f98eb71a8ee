package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Market is the static metadata of one tradable symbol (e.g. DERIV:XBTUSD).
//
// Prices and sizes travel through the engine as integers:
//   - price ticks = price / TickSize
//   - quantity lots = quantity / LotSize
//
// A Market is immutable once registered.
type Market struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`

	TickSize decimal.Decimal `json:"tickSize"` // smallest price increment
	LotSize  decimal.Decimal `json:"lotSize"`  // smallest quantity increment

	MinPrice decimal.Decimal `json:"minPrice"`
	MaxPrice decimal.Decimal `json:"maxPrice"`

	// MaxQuantity caps a single order; zero means unlimited.
	MaxQuantity decimal.Decimal `json:"maxQuantity"`
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if !m.TickSize.IsPositive() {
		return fmt.Errorf("%s: tick size must be positive", m.Symbol)
	}
	if !m.LotSize.IsPositive() {
		return fmt.Errorf("%s: lot size must be positive", m.Symbol)
	}
	if !m.MinPrice.IsPositive() {
		return fmt.Errorf("%s: min price must be positive", m.Symbol)
	}
	if m.MaxPrice.LessThan(m.MinPrice) {
		return fmt.Errorf("%s: max price %s below min price %s", m.Symbol, m.MaxPrice, m.MinPrice)
	}
	if !m.MinPrice.Mod(m.TickSize).IsZero() || !m.MaxPrice.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("%s: price bounds must be multiples of tick size %s", m.Symbol, m.TickSize)
	}
	if m.MaxPrice.Div(m.TickSize).GreaterThan(decimal.NewFromInt(MaxUnits)) {
		return fmt.Errorf("%s: max price %s exceeds %d ticks", m.Symbol, m.MaxPrice, MaxUnits)
	}
	if m.MaxQuantity.IsNegative() {
		return fmt.Errorf("%s: max quantity cannot be negative", m.Symbol)
	}
	return nil
}

// MaxUnits bounds the ticks of a price and the lots of a quantity. Larger
// values are rejected rather than wrapped.
const MaxUnits int64 = 1 << 53

// PriceToTicks converts a price to integer ticks. ok is false when the price is
// not a positive exact multiple of the tick size or exceeds MaxUnits ticks.
func (m *Market) PriceToTicks(p decimal.Decimal) (ticks int64, ok bool) {
	return toUnits(p, m.TickSize)
}

// QtyToLots converts a quantity to integer lots with the same rules as PriceToTicks.
func (m *Market) QtyToLots(q decimal.Decimal) (lots int64, ok bool) {
	return toUnits(q, m.LotSize)
}

func toUnits(v, step decimal.Decimal) (int64, bool) {
	if !v.IsPositive() || !v.Mod(step).IsZero() {
		return 0, false
	}
	u := v.Div(step)
	if !u.IsInteger() {
		return 0, false
	}
	b := u.BigInt()
	if !b.IsInt64() || b.Int64() > MaxUnits {
		return 0, false
	}
	return b.Int64(), true
}

func (m *Market) TicksToPrice(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(m.TickSize)
}

func (m *Market) LotsToQty(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(m.LotSize)
}

// InBounds reports whether p lies inside [MinPrice, MaxPrice].
func (m *Market) InBounds(p decimal.Decimal) bool {
	return !p.LessThan(m.MinPrice) && !p.GreaterThan(m.MaxPrice)
}

// QuantityAllowed applies the optional single-order cap.
func (m *Market) QuantityAllowed(q decimal.Decimal) bool {
	return m.MaxQuantity.IsZero() || !q.GreaterThan(m.MaxQuantity)
}
