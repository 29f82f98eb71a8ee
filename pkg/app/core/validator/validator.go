package validator

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
)

// Request is an order request that already passed schema checks at the gateway:
// Type is known and Price is set exactly when Type is Limit.
type Request struct {
	Symbol         string
	Side           string
	Type           core.OrderType
	Price          *decimal.Decimal
	Quantity       decimal.Decimal
	IdempotencyKey string
}

// ValidOrder is a request translated into engine units.
type ValidOrder struct {
	Market         *market.Market
	Side           core.Side
	Type           core.OrderType
	Price          int64 // ticks, 0 for market orders
	Qty            int64 // lots
	IdempotencyKey string
}

type Validator struct {
	registry *market.Registry
	window   *Window
}

func New(registry *market.Registry, window *Window) *Validator {
	return &Validator{registry: registry, window: window}
}

// Validate runs the checks in a fixed order and stops at the first failure:
// symbol, side, quantity, price, idempotency key. The key is recorded only when
// every other check passed.
func (v *Validator) Validate(req Request) (*ValidOrder, error) {
	m, err := v.registry.Lookup(req.Symbol)
	if err != nil {
		return nil, err
	}

	side, ok := core.ParseSide(req.Side)
	if !ok {
		return nil, core.Reject(core.ErrInvalidSide, "side %q must be buy or sell", req.Side)
	}

	lots, ok := m.QtyToLots(req.Quantity)
	if !ok {
		return nil, core.Reject(core.ErrInvalidQuantity, "quantity %s must be a positive multiple of %s up to %d lots", req.Quantity, m.LotSize, market.MaxUnits)
	}
	if !m.QuantityAllowed(req.Quantity) {
		return nil, core.Reject(core.ErrInvalidQuantity, "quantity %s exceeds maximum %s", req.Quantity, m.MaxQuantity)
	}

	var ticks int64
	switch req.Type {
	case core.Limit:
		if req.Price == nil {
			return nil, core.Reject(core.ErrInvalidPrice, "limit order requires a price")
		}
		ticks, ok = m.PriceToTicks(*req.Price)
		if !ok {
			return nil, core.Reject(core.ErrInvalidPrice, "price %s must be a positive multiple of %s up to %d ticks", req.Price, m.TickSize, market.MaxUnits)
		}
		if !m.InBounds(*req.Price) {
			return nil, core.Reject(core.ErrInvalidPrice, "price %s outside [%s, %s]", req.Price, m.MinPrice, m.MaxPrice)
		}
	case core.Market:
		if req.Price != nil {
			return nil, core.Reject(core.ErrInvalidPrice, "market order must not carry a price")
		}
	default:
		return nil, core.Reject(core.ErrInvalidRequest, "unknown order type %d", req.Type)
	}

	if req.IdempotencyKey == "" {
		return nil, core.Reject(core.ErrInvalidRequest, "idempotency key is required")
	}
	if !v.window.Remember(req.IdempotencyKey) {
		return nil, core.Reject(core.ErrDuplicateRequest, "idempotency key %q already used", req.IdempotencyKey)
	}

	return &ValidOrder{
		Market:         m,
		Side:           side,
		Type:           req.Type,
		Price:          ticks,
		Qty:            lots,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}
