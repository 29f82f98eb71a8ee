package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

func TestOrderGeneratorProducesValidRequests(t *testing.T) {
	app := newTestApp(t, nil)
	cfg := DefaultFeederConfig()
	cfg.MarketRatio = 0.3
	gen := NewOrderGenerator(app.ListMarkets(), cfg, 7)

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		req := gen.Generate(app.referencePrice)
		out, err := app.PlaceOrder(ctx, req)
		if err != nil {
			t.Fatalf("generated request %d rejected: %+v: %v", i, req, err)
		}
		if req.Type == core.Limit.String() {
			assert.NotEqual(t, StatusRejected, out.Status)
		}
	}
}

func TestFeederStops(t *testing.T) {
	app := newTestApp(t, nil)
	cfg := DefaultFeederConfig()
	cfg.OrdersPerSecond = 500
	cfg.Symbols = []string{xbt}

	stop := StartFeeder(context.Background(), app, cfg, zaptest.NewLogger(t).Sugar())
	require.Eventually(t, func() bool {
		snaps, _ := app.MarketData([]string{xbt})
		return snaps[0].Seq > 10
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	time.Sleep(50 * time.Millisecond)
	before, _ := app.MarketData([]string{xbt})
	time.Sleep(100 * time.Millisecond)
	after, _ := app.MarketData([]string{xbt})
	assert.Equal(t, before[0].Seq, after[0].Seq, "no orders after stop")
}

func TestFeederDisabledWithoutMarkets(t *testing.T) {
	app := newTestApp(t, nil)
	cfg := DefaultFeederConfig()
	cfg.Symbols = []string{"NOPE"}
	stop := StartFeeder(context.Background(), app, cfg, nil)
	stop()
}
