package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/config"
	"github.com/launchfund/engine/internal/engine"
	"github.com/launchfund/engine/internal/graduation"
	"github.com/launchfund/engine/internal/logger"
	"github.com/launchfund/engine/internal/monitor"
	"github.com/launchfund/engine/internal/oracle"
	solledger "github.com/launchfund/engine/internal/ledger/solana"
	"github.com/launchfund/engine/internal/storage"
	"github.com/launchfund/engine/internal/storage/memory"
	"github.com/launchfund/engine/internal/venue"
	"github.com/launchfund/engine/internal/venue/stub"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})
	if err != nil {
		println("failed to build logger:", err.Error())
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting market engine")

	var payer solanago.PrivateKey
	if cfg.Ledger.PrivateKey != "" {
		payer, err = solanago.PrivateKeyFromBase58(cfg.Ledger.PrivateKey)
		if err != nil {
			log.Fatal("Invalid ledger private key", zap.Error(err))
		}
	}

	lc, err := solledger.New(ctx, solledger.Options{
		RPCEndpoint:       cfg.Ledger.RPCEndpoint,
		WSEndpoint:        cfg.Ledger.WSEndpoint,
		Payer:             payer,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect ledger", zap.Error(err))
	}
	defer lc.Close()

	store := memory.New()
	markets := storage.NewMarketStore(store)
	graduations := storage.NewGraduationStore(store)

	priceOracle := oracle.NewCached(
		oracle.NewHTTPSource(cfg.Oracle.URL),
		cfg.Oracle.TTL,
		decimal.NewFromFloat(cfg.Oracle.FallbackPrice),
		log,
	)

	mon := monitor.New(lc, cfg.Monitor.PollInterval, log)

	venues := []venue.Client{stub.New(cfg.Venues.Default, 30)}
	agg := venue.NewAggregator(venues, cfg.Venues.Default, cfg.Venues.Timeout, log)

	evaluator := graduation.NewEvaluator(markets, mon, priceOracle, log)
	executor := graduation.NewExecutor(markets, graduations, agg, lc, priceOracle,
		cfg.Graduation.LiquidityFractionBps, log)

	eng := engine.New(cfg, markets, graduations, mon, evaluator, executor, agg, lc, log)
	if err := eng.Start(ctx); err != nil {
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("Shutting down")
	eng.Shutdown()
}
