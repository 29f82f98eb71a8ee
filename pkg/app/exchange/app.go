// Package exchange is the transport-agnostic gateway: it checks the shape of
// inbound requests, runs them through validation and matching, and exposes the
// market data hub. It never touches a book or the hub's state directly.
package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/engine"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/app/core/validator"
	"github.com/uhyunpark/matchgate/pkg/marketdata"
	"github.com/uhyunpark/matchgate/pkg/metrics"
	"github.com/uhyunpark/matchgate/pkg/util"
)

// Outcome statuses reported for an order request.
const (
	StatusAccepted        = "accepted"
	StatusRejected        = "rejected"
	StatusFilled          = "filled"
	StatusPartiallyFilled = "partially_filled"
)

// Store is the read side of the trade log and order journal.
type Store interface {
	LoadRecentTrades(symbol string, limit int) ([]core.Trade, error)
	LoadOrder(orderID string) (core.Order, bool, error)
}

// OrderRequest is an order as received from a client, before any checks.
type OrderRequest struct {
	Symbol         string
	Side           string
	Type           string
	Price          *decimal.Decimal
	Quantity       *decimal.Decimal
	IdempotencyKey string
}

// OrderOutcome reports what happened to an accepted request. Engine-level
// rejections such as NoLiquidity are outcomes, not errors.
type OrderOutcome struct {
	Order  core.Order
	Market *market.Market
	Status string
	Reason core.Reason // empty unless rejected or partially killed
	Detail string
	Trades []core.Trade
}

type Options struct {
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	Clock    util.Clock
	Recorder engine.Recorder
	Store    Store

	IdempotencyTTL      time.Duration
	IdempotencyCapacity int
	IdempotencyShards   int

	Engine     engine.Config
	MarketData marketdata.Config
}

func DefaultOptions() Options {
	return Options{
		IdempotencyTTL:      5 * time.Minute,
		IdempotencyCapacity: 1 << 20,
		IdempotencyShards:   64,
		Engine:              engine.DefaultConfig(),
		MarketData:          marketdata.DefaultConfig(),
	}
}

type App struct {
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	registry *market.Registry
	validate *validator.Validator
	engine   *engine.Engine
	hub      *marketdata.Hub
	store    Store
}

// New wires validator, engine and hub for the markets in reg.
func New(reg *market.Registry, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}

	hub := marketdata.New(reg.Symbols(), opts.MarketData)
	hub.Logger = opts.Logger.Named("marketdata")
	hub.Metrics = opts.Metrics
	hub.Clock = opts.Clock

	eng := engine.New(reg, opts.Engine)
	eng.Logger = opts.Logger.Named("engine")
	eng.Metrics = opts.Metrics
	eng.Clock = opts.Clock
	eng.Events = hub
	eng.Recorder = opts.Recorder

	window := validator.NewWindow(opts.IdempotencyTTL, opts.IdempotencyCapacity, opts.IdempotencyShards, opts.Clock)

	return &App{
		logger:   opts.Logger.Named("gateway"),
		metrics:  opts.Metrics,
		registry: reg,
		validate: validator.New(reg, window),
		engine:   eng,
		hub:      hub,
		store:    opts.Store,
	}
}

// PlaceOrder checks the request shape, validates it and submits it for
// matching. Validation failures and internal faults are returned as errors.
func (a *App) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderOutcome, error) {
	vreq, err := checkSchema(req)
	if err != nil {
		a.reject(err)
		return nil, err
	}

	vo, err := a.validate.Validate(vreq)
	if err != nil {
		a.reject(err)
		return nil, err
	}

	res, err := a.engine.Submit(ctx, vo)
	if res == nil {
		return nil, err
	}
	out := &OrderOutcome{
		Order:  res.Order,
		Market: vo.Market,
		Status: outcomeStatus(res.Order.Status),
		Trades: res.Trades,
	}

	switch {
	case err == nil:
	case errors.Is(err, core.ErrNoLiquidity):
		out.Reason, out.Detail = core.ReasonNoLiquidity, err.Error()
		a.reject(err)
	default:
		a.reject(err)
		return out, err
	}

	a.logger.Debugw("order_placed",
		"order_id", out.Order.ID, "symbol", out.Order.Symbol, "status", out.Status, "trades", len(out.Trades))
	return out, nil
}

func (a *App) reject(err error) {
	reason := core.ReasonOf(err)
	a.metrics.Rejected(string(reason))
	if core.ClassOf(err) == core.ClassInternal {
		a.logger.Errorw("order_failed", "reason", reason, "err", err)
		return
	}
	a.logger.Debugw("order_rejected", "reason", reason, "err", err)
}

func checkSchema(req OrderRequest) (validator.Request, error) {
	if req.Type == "" {
		return validator.Request{}, core.Reject(core.ErrInvalidRequest, "type is required")
	}
	typ, ok := core.ParseOrderType(req.Type)
	if !ok {
		return validator.Request{}, core.Reject(core.ErrInvalidRequest, "type %q must be limit or market", req.Type)
	}
	if req.Quantity == nil {
		return validator.Request{}, core.Reject(core.ErrInvalidRequest, "quantity is required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return validator.Request{}, core.Reject(core.ErrInvalidRequest, "idempotency_key is required")
	}
	return validator.Request{
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           typ,
		Price:          req.Price,
		Quantity:       *req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

func outcomeStatus(s core.OrderStatus) string {
	switch s {
	case core.StatusOpen:
		return StatusAccepted
	case core.StatusPartiallyFilled:
		return StatusPartiallyFilled
	case core.StatusFilled:
		return StatusFilled
	default:
		return StatusRejected
	}
}

// CancelOrder cancels the unfilled remainder of a resting order. Orders the
// engine no longer retains are resolved through the journal so a filled order
// still reports AlreadyFilled.
func (a *App) CancelOrder(ctx context.Context, orderID string) (core.Order, error) {
	if orderID == "" {
		return core.Order{}, core.Reject(core.ErrInvalidRequest, "orderId is required")
	}
	o, err := a.engine.Cancel(ctx, orderID)
	if errors.Is(err, core.ErrNotFound) && o.ID == "" {
		if stored, ok := a.journaled(orderID); ok {
			o = stored
			if stored.Status == core.StatusFilled {
				err = core.Reject(core.ErrAlreadyFilled, "order %q already filled", orderID)
			}
		}
	}
	if err != nil {
		a.reject(err)
		return o, err
	}
	a.logger.Debugw("order_cancelled", "order_id", orderID, "symbol", o.Symbol)
	return o, nil
}

// GetOrder returns the engine's view of an order, falling back to the journal
// for orders the engine no longer retains.
func (a *App) GetOrder(ctx context.Context, orderID string) (core.Order, error) {
	o, err := a.engine.Order(ctx, orderID)
	if err == nil || !errors.Is(err, core.ErrNotFound) {
		return o, err
	}
	if stored, ok := a.journaled(orderID); ok {
		return stored, nil
	}
	return core.Order{}, err
}

func (a *App) journaled(orderID string) (core.Order, bool) {
	if a.store == nil {
		return core.Order{}, false
	}
	stored, ok, err := a.store.LoadOrder(orderID)
	if err != nil {
		a.logger.Warnw("journal_read_failed", "order_id", orderID, "err", err)
		return core.Order{}, false
	}
	return stored, ok
}

func (a *App) ListMarkets() []*market.Market { return a.registry.List() }

func (a *App) GetMarket(symbol string) (*market.Market, error) {
	return a.registry.Lookup(symbol)
}

// MarketData returns a sequenced snapshot per symbol; no symbols means all.
func (a *App) MarketData(symbols []string) ([]core.Snapshot, error) {
	if len(symbols) == 0 {
		symbols = a.registry.Symbols()
	}
	out := make([]core.Snapshot, 0, len(symbols))
	for _, s := range symbols {
		snap, err := a.hub.Snapshot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// RecentTrades returns up to limit trades, newest first, from the journal when
// one is configured and from engine memory otherwise.
func (a *App) RecentTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if _, err := a.registry.Lookup(symbol); err != nil {
		return nil, err
	}
	if a.store != nil {
		trades, err := a.store.LoadRecentTrades(symbol, limit)
		if err == nil {
			return trades, nil
		}
		a.logger.Warnw("journal_read_failed", "symbol", symbol, "err", err)
	}
	return a.engine.RecentTrades(ctx, symbol, limit)
}

func (a *App) NewSubscription(id string) *marketdata.Subscription {
	return a.hub.NewSubscription(id)
}

func (a *App) Subscribe(sub *marketdata.Subscription, symbols []string, from map[string]uint64) ([]core.Snapshot, error) {
	return a.hub.Subscribe(sub, symbols, from)
}

func (a *App) Unsubscribe(sub *marketdata.Subscription, symbols []string) {
	a.hub.Unsubscribe(sub, symbols)
}

func (a *App) CloseSubscription(sub *marketdata.Subscription, reason error) {
	a.hub.Close(sub, reason)
}
