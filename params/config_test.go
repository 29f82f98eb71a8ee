package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	// Point at a missing file so a stray .env in the package dir is never read.
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "none.env"))

	if cfg.API.Addr != ":8080" {
		t.Errorf("default addr = %s", cfg.API.Addr)
	}
	if cfg.MarketData.RingSize != 4096 {
		t.Errorf("default ring size = %d", cfg.MarketData.RingSize)
	}
	if cfg.Validator.IdempotencyTTL != 5*time.Minute {
		t.Errorf("default idempotency ttl = %v", cfg.Validator.IdempotencyTTL)
	}
	if cfg.OrderGen.Enabled {
		t.Errorf("order generator must be off by default")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("RING_SIZE", "128")
	t.Setenv("IDEMPOTENCY_TTL_MS", "1500")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RATE_LIMIT_RPS", "12.5")
	t.Setenv("ORDERGEN_ENABLED", "true")
	t.Setenv("IDEMPOTENCY_SHARDS", "not-a-number")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "none.env"))

	if cfg.API.Addr != ":9090" {
		t.Errorf("addr = %s", cfg.API.Addr)
	}
	if cfg.MarketData.RingSize != 128 {
		t.Errorf("ring size = %d", cfg.MarketData.RingSize)
	}
	if cfg.Validator.IdempotencyTTL != 1500*time.Millisecond {
		t.Errorf("ttl = %v", cfg.Validator.IdempotencyTTL)
	}
	if len(cfg.Storage.KafkaBrokers) != 2 || cfg.Storage.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Storage.KafkaBrokers)
	}
	if cfg.API.RateLimit != 12.5 {
		t.Errorf("rate limit = %v", cfg.API.RateLimit)
	}
	if !cfg.OrderGen.Enabled {
		t.Errorf("ORDERGEN_ENABLED=true not applied")
	}
	if cfg.Validator.IdempotencyShards != 64 {
		t.Errorf("bad integer should keep default, got %d", cfg.Validator.IdempotencyShards)
	}
}

func TestLoadFromEnvZeroCounts(t *testing.T) {
	t.Setenv("CLOSED_ORDER_RETENTION", "0")
	t.Setenv("TRADE_HISTORY", "0")
	t.Setenv("ORDERGEN_RATE", "0")
	t.Setenv("RING_SIZE", "0")
	t.Setenv("RECORDER_QUEUE", "-5")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "none.env"))
	def := Default()

	if cfg.Engine.ClosedOrderRetention != 0 {
		t.Errorf("closed order retention = %d, want 0", cfg.Engine.ClosedOrderRetention)
	}
	if cfg.Engine.TradeHistory != 0 {
		t.Errorf("trade history = %d, want 0", cfg.Engine.TradeHistory)
	}
	if cfg.OrderGen.Rate != 0 {
		t.Errorf("ordergen rate = %d, want 0", cfg.OrderGen.Rate)
	}
	// sizes still need a positive value
	if cfg.MarketData.RingSize != def.MarketData.RingSize {
		t.Errorf("ring size = %d, want default %d", cfg.MarketData.RingSize, def.MarketData.RingSize)
	}
	if cfg.Storage.RecorderQueue != def.Storage.RecorderQueue {
		t.Errorf("recorder queue = %d, want default %d", cfg.Storage.RecorderQueue, def.Storage.RecorderQueue)
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MARKETS_FILE=/etc/matchgate/markets.json\nLOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("MARKETS_FILE")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg := LoadFromEnv(path)
	if cfg.MarketsFile != "/etc/matchgate/markets.json" {
		t.Errorf("markets file = %q", cfg.MarketsFile)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}
