package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Addr        string
	Token       string   // bearer token required on /api/*; empty disables the check
	CORSOrigins []string // allowed browser origins
	RateLimit   float64  // requests per second per client; 0 disables limiting
	RateBurst   int
}

type Engine struct {
	// ClosedOrderRetention bounds how many filled/cancelled/rejected orders each
	// symbol keeps for status queries and AlreadyFilled detection.
	ClosedOrderRetention int
	// TradeHistory is the in-memory trade log length per symbol.
	TradeHistory int
}

type Validator struct {
	IdempotencyTTL      time.Duration
	IdempotencyCapacity int
	IdempotencyShards   int
}

type MarketData struct {
	// RingSize is the per-symbol retained event window. A subscriber that falls
	// further behind than this is disconnected and must resubscribe.
	RingSize int
}

type Storage struct {
	DataDir       string // Pebble trade journal; empty keeps everything in memory
	RecorderQueue int    // async trade dispatcher buffer
	KafkaBrokers  []string
	KafkaTopic    string
}

type OrderGen struct {
	Enabled bool
	Rate    int // orders per second
}

type Config struct {
	LogFile     string
	LogLevel    string
	MarketsFile string

	API        API
	Engine     Engine
	Validator  Validator
	MarketData MarketData
	Storage    Storage
	OrderGen   OrderGen
}

func Default() Config {
	return Config{
		LogLevel: "info",
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateBurst:   50,
		},
		Engine: Engine{
			ClosedOrderRetention: 100_000,
			TradeHistory:         1000,
		},
		Validator: Validator{
			IdempotencyTTL:      5 * time.Minute,
			IdempotencyCapacity: 1 << 20,
			IdempotencyShards:   64,
		},
		MarketData: MarketData{
			RingSize: 4096,
		},
		Storage: Storage{
			RecorderQueue: 4096,
			KafkaTopic:    "trades",
		},
		OrderGen: OrderGen{
			Rate: 50,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// .env is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.Token = getEnv("API_TOKEN", cfg.API.Token)
	if origins := getList("CORS_ORIGINS"); len(origins) > 0 {
		cfg.API.CORSOrigins = origins
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps >= 0 {
			cfg.API.RateLimit = rps
		}
	}
	cfg.API.RateBurst = getInt("RATE_LIMIT_BURST", cfg.API.RateBurst)

	cfg.Engine.ClosedOrderRetention = getCount("CLOSED_ORDER_RETENTION", cfg.Engine.ClosedOrderRetention)
	cfg.Engine.TradeHistory = getCount("TRADE_HISTORY", cfg.Engine.TradeHistory)

	if ms := getInt("IDEMPOTENCY_TTL_MS", 0); ms > 0 {
		cfg.Validator.IdempotencyTTL = time.Duration(ms) * time.Millisecond
	}
	cfg.Validator.IdempotencyCapacity = getInt("IDEMPOTENCY_CAPACITY", cfg.Validator.IdempotencyCapacity)
	cfg.Validator.IdempotencyShards = getInt("IDEMPOTENCY_SHARDS", cfg.Validator.IdempotencyShards)

	cfg.MarketData.RingSize = getInt("RING_SIZE", cfg.MarketData.RingSize)

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.RecorderQueue = getInt("RECORDER_QUEUE", cfg.Storage.RecorderQueue)
	cfg.Storage.KafkaBrokers = getList("KAFKA_BROKERS")
	cfg.Storage.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Storage.KafkaTopic)

	if v := os.Getenv("ORDERGEN_ENABLED"); v != "" {
		cfg.OrderGen.Enabled = v == "true"
	}
	cfg.OrderGen.Rate = getCount("ORDERGEN_RATE", cfg.OrderGen.Rate)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt ignores unparsable and non-positive values.
func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getCount is getInt for settings where zero is meaningful, such as
// CLOSED_ORDER_RETENTION=0 to keep no closed orders.
func getCount(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

// getList splits a comma-separated variable, e.g. "host1:9092,host2:9092".
func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
