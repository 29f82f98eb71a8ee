package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/params"
	"github.com/uhyunpark/matchgate/pkg/api"
	"github.com/uhyunpark/matchgate/pkg/app/core/engine"
	"github.com/uhyunpark/matchgate/pkg/app/core/market"
	"github.com/uhyunpark/matchgate/pkg/app/exchange"
	"github.com/uhyunpark/matchgate/pkg/feed"
	"github.com/uhyunpark/matchgate/pkg/marketdata"
	"github.com/uhyunpark/matchgate/pkg/metrics"
	"github.com/uhyunpark/matchgate/pkg/storage"
	"github.com/uhyunpark/matchgate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	level, err := util.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	var logger *zap.Logger
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile, level)
	} else {
		logger, err = util.NewLogger(level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", level.String(), "log_file", cfg.LogFile)

	// ---- Markets ----
	reg, err := market.LoadRegistry(cfg.MarketsFile)
	if err != nil {
		sugar.Fatalw("markets_load_failed", "file", cfg.MarketsFile, "err", err)
	}
	sugar.Infow("markets_loaded", "count", reg.Count(), "symbols", reg.Symbols())

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Trade recorders (optional) ----
	var (
		sinks []feed.Sink
		store *storage.PebbleStore
	)
	if cfg.Storage.DataDir != "" {
		store, err = storage.NewPebbleStore(cfg.Storage.DataDir)
		if err != nil {
			sugar.Fatalw("store_open_failed", "dir", cfg.Storage.DataDir, "err", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
		sugar.Infow("trade_journal_enabled", "dir", cfg.Storage.DataDir)
	}
	if len(cfg.Storage.KafkaBrokers) > 0 {
		kp := feed.NewKafkaPublisher(cfg.Storage.KafkaBrokers, cfg.Storage.KafkaTopic, reg)
		defer kp.Close()
		sinks = append(sinks, kp)
		sugar.Infow("kafka_publisher_enabled", "brokers", cfg.Storage.KafkaBrokers, "topic", cfg.Storage.KafkaTopic)
	}

	opts := exchange.DefaultOptions()
	opts.Logger = sugar
	opts.Metrics = m
	opts.IdempotencyTTL = cfg.Validator.IdempotencyTTL
	opts.IdempotencyCapacity = cfg.Validator.IdempotencyCapacity
	opts.IdempotencyShards = cfg.Validator.IdempotencyShards
	opts.Engine = engine.Config{
		ClosedOrderRetention: cfg.Engine.ClosedOrderRetention,
		TradeHistory:         cfg.Engine.TradeHistory,
	}
	opts.MarketData = marketdata.Config{
		RingSize:  cfg.MarketData.RingSize,
		BatchSize: marketdata.DefaultConfig().BatchSize,
	}

	var dispatcher *feed.Dispatcher
	if len(sinks) > 0 {
		dispatcher = feed.NewDispatcher(cfg.Storage.RecorderQueue, sinks...)
		dispatcher.Logger = sugar.Named("recorder")
		dispatcher.Metrics = m
		go dispatcher.Run(ctx)
		opts.Recorder = dispatcher
	}
	if store != nil {
		opts.Store = store
	}

	// ---- Gateway ----
	app := exchange.New(reg, opts)

	// ---- Order generator (optional) ----
	// Enable with: ORDERGEN_ENABLED=true ORDERGEN_RATE=<orders/s>
	if cfg.OrderGen.Enabled {
		genCfg := exchange.DefaultFeederConfig()
		genCfg.OrdersPerSecond = float64(cfg.OrderGen.Rate)
		cancelFeeder := exchange.StartFeeder(ctx, app, genCfg, sugar.Named("feeder"))
		defer cancelFeeder()
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Config{
		Token:       cfg.API.Token,
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	})
	apiServer.Logger = sugar.Named("api")
	apiServer.Metrics = m

	sugar.Infow("gateway_starting",
		"addr", cfg.API.Addr,
		"auth", cfg.API.Token != "",
		"rate_limit", cfg.API.RateLimit,
		"ring_size", cfg.MarketData.RingSize)

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	stop()

	// flush recorders before the store closes
	if dispatcher != nil {
		done := make(chan struct{})
		go func() {
			dispatcher.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			sugar.Warnw("recorder_flush_timeout")
		}
	}
	sugar.Infow("gateway_stopped")
}
