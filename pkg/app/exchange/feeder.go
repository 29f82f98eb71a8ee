package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
)

// FeederConfig controls synthetic order generation for soak testing.
type FeederConfig struct {
	OrdersPerSecond float64
	Symbols         []string // empty means every listed market
	MarketRatio     float64  // share of market orders, 0..1
	CancelRatio     float64  // share of cancels of recently rested orders, 0..1
	SpreadTicks     int64    // limit prices spread ±SpreadTicks around the reference
	MaxLots         int64    // quantities are 1..MaxLots lots
}

// DefaultFeederConfig returns reasonable defaults for testing
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		OrdersPerSecond: 50,
		MarketRatio:     0.1,
		CancelRatio:     0.1,
		SpreadTicks:     50,
		MaxLots:         20,
	}
}

// OrderGenerator creates random order requests around a reference price per symbol.
type OrderGenerator struct {
	cfg     FeederConfig
	markets []*market.Market
	rng     *rand.Rand
}

func NewOrderGenerator(markets []*market.Market, cfg FeederConfig, seed int64) *OrderGenerator {
	if cfg.SpreadTicks < 1 {
		cfg.SpreadTicks = 1
	}
	if cfg.MaxLots < 1 {
		cfg.MaxLots = 1
	}
	return &OrderGenerator{cfg: cfg, markets: markets, rng: rand.New(rand.NewSource(seed))}
}

// Generate creates one request. ref is the reference price in ticks for the
// chosen market; zero uses the middle of its price band.
func (g *OrderGenerator) Generate(ref func(symbol string) int64) OrderRequest {
	m := g.markets[g.rng.Intn(len(g.markets))]

	side := "buy"
	if g.rng.Intn(2) == 1 {
		side = "sell"
	}

	lots := g.rng.Int63n(g.cfg.MaxLots) + 1
	qty := m.LotsToQty(lots)
	if !m.QuantityAllowed(qty) {
		qty = m.LotSize
	}

	req := OrderRequest{
		Symbol:         m.Symbol,
		Side:           side,
		Quantity:       &qty,
		IdempotencyKey: uuid.NewString(),
	}
	if g.rng.Float64() < g.cfg.MarketRatio {
		req.Type = core.Market.String()
		return req
	}

	minTicks, _ := m.PriceToTicks(m.MinPrice)
	maxTicks, _ := m.PriceToTicks(m.MaxPrice)
	center := int64(0)
	if ref != nil {
		center = ref(m.Symbol)
	}
	if center <= 0 {
		center = (minTicks + maxTicks) / 2
	}
	ticks := center + g.rng.Int63n(2*g.cfg.SpreadTicks+1) - g.cfg.SpreadTicks
	ticks = max(minTicks, min(maxTicks, ticks))
	price := m.TicksToPrice(ticks)

	req.Type = core.Limit.String()
	req.Price = &price
	return req
}

// StartFeeder drives generated orders through PlaceOrder until ctx is done.
// Returns a cancel function to stop the feeder
func StartFeeder(ctx context.Context, app *App, cfg FeederConfig, logger *zap.SugaredLogger) context.CancelFunc {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var markets []*market.Market
	if len(cfg.Symbols) == 0 {
		markets = app.ListMarkets()
	} else {
		for _, s := range cfg.Symbols {
			if m, err := app.GetMarket(s); err == nil {
				markets = append(markets, m)
			}
		}
	}

	feedCtx, cancel := context.WithCancel(ctx)
	if len(markets) == 0 || cfg.OrdersPerSecond <= 0 {
		logger.Warnw("feeder_disabled", "markets", len(markets), "rate", cfg.OrdersPerSecond)
		return cancel
	}

	gen := NewOrderGenerator(markets, cfg, time.Now().UnixNano())
	limiter := rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), max(1, int(cfg.OrdersPerSecond/10)))

	go func() {
		start := time.Now()
		stats := feederStats{}
		var resting []string

		logger.Infow("feeder_started", "rate", cfg.OrdersPerSecond, "markets", len(markets))
		defer func() {
			elapsed := time.Since(start)
			logger.Infow("feeder_stopped",
				"orders", stats.orders, "trades", stats.trades, "rejected", stats.rejected,
				"cancels", stats.cancels, "elapsed", elapsed.Round(time.Second).String())
		}()

		report := time.NewTicker(10 * time.Second)
		defer report.Stop()

		for {
			if err := limiter.Wait(feedCtx); err != nil {
				return
			}
			select {
			case <-report.C:
				logger.Infow("feeder_stats",
					"orders", stats.orders, "trades", stats.trades, "rejected", stats.rejected,
					"rate", fmt.Sprintf("%.1f", float64(stats.orders)/time.Since(start).Seconds()))
			default:
			}

			if len(resting) > 0 && gen.rng.Float64() < cfg.CancelRatio {
				i := gen.rng.Intn(len(resting))
				id := resting[i]
				resting = append(resting[:i], resting[i+1:]...)
				if _, err := app.CancelOrder(feedCtx, id); err == nil {
					stats.cancels++
				}
				continue
			}

			out, err := app.PlaceOrder(feedCtx, gen.Generate(app.referencePrice))
			stats.orders++
			if err != nil {
				stats.rejected++
				continue
			}
			stats.trades += len(out.Trades)
			if out.Status == StatusRejected {
				stats.rejected++
			}
			if out.Status == StatusAccepted || (out.Status == StatusPartiallyFilled && out.Order.Type == core.Limit) {
				resting = append(resting, out.Order.ID)
				if len(resting) > 1000 {
					resting = resting[1:]
				}
			}
		}
	}()

	return cancel
}

type feederStats struct {
	orders, trades, rejected, cancels int
}

// referencePrice is the midpoint of the current best bid and ask, or whichever
// side exists, in ticks. Zero when the book is empty.
func (a *App) referencePrice(symbol string) int64 {
	snap, err := a.hub.Snapshot(symbol)
	if err != nil {
		return 0
	}
	switch {
	case len(snap.Bids) > 0 && len(snap.Asks) > 0:
		return (snap.Bids[0].Price + snap.Asks[0].Price) / 2
	case len(snap.Bids) > 0:
		return snap.Bids[0].Price
	case len(snap.Asks) > 0:
		return snap.Asks[0].Price
	}
	return 0
}
