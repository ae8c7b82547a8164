package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/hyperclob/params"
	"github.com/uhyunpark/hyperclob/pkg/api"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/exchange"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/feed"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "journal.log"))
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()

	// ---- App ----
	opts := exchange.DefaultOptions()
	opts.Domain = crypto.DefaultDomain()
	opts.Domain.ChainID = big.NewInt(cfg.Node.ChainID)
	opts.BatchInterval = cfg.Engine.BatchInterval
	opts.MaxBatchBytes = cfg.Engine.MaxBatchBytes
	opts.MaxPending = cfg.Engine.MaxPending
	opts.AutoConsume = cfg.Engine.ConsumeBatch // 0 disables the crank
	opts.Journal = journal

	app, err := exchange.NewApp(opts, store, sugar)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	for _, m := range cfg.Markets {
		_, err := app.CreateMarket(market.Params{
			Name:           m.Name,
			BaseAsset:      market.AssetID(m.Base),
			QuoteAsset:     market.AssetID(m.Quote),
			BaseLotSize:    m.BaseLotSize,
			MinBaseAmount:  m.MinBase,
			MinQuoteAmount: m.MinQuote,
		})
		switch {
		case errors.Is(err, market.ErrMarketExists):
			sugar.Debugw("market_exists", "market", m.Name)
		case err != nil:
			sugar.Fatalw("market_create_failed", "market", m.Name, "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Event feed ----
	var pub feed.Publisher = feed.NopPublisher{}
	if len(cfg.Feed.Brokers) > 0 {
		pub = feed.NewKafkaPublisher(cfg.Feed.Brokers, cfg.Feed.Topic)
		sugar.Infow("feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}
	defer pub.Close()
	pump := feed.NewPump(pub, sugar, 1024)
	go pump.Run(ctx)

	// ---- API Server ----
	apiServer := api.NewServer(app, sugar)
	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Runs under the app lock: must not call back into app.
	app.OnEvents = func(name string, evs []events.Event) {
		apiServer.PublishEvents(name, evs)
		pump.Enqueue(name, evs)
	}
	app.OnBatch = func(res exchange.BatchResult) {
		if res.Applied > 0 {
			apiServer.PublishBooks()
		}
	}

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.TxGen.Enabled {
		fcfg := exchange.DefaultFeederConfig()
		if cfg.TxGen.Mode == "high" {
			fcfg.BatchSize = 200
			fcfg.Interval = 10 * time.Millisecond
			fcfg.NumAccounts = 200
		}
		feeder, err := exchange.NewTxFeeder(app, fcfg)
		if err != nil {
			sugar.Fatalw("txfeeder_init_failed", "err", err)
		}
		cancelFeeder := feeder.Start(ctx)
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "mode", cfg.TxGen.Mode)
	}

	sugar.Infow("node_starting",
		"markets", len(app.Markets()),
		"height", app.Height(),
		"batch_interval_ms", cfg.Engine.BatchInterval.Milliseconds(),
		"consume_batch", cfg.Engine.ConsumeBatch)

	app.Run(ctx)
}
