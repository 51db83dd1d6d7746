package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-core/internal/api"
	"paper-core/internal/engine"
	"paper-core/internal/events"
	"paper-core/internal/market"
	"paper-core/internal/monitor"
	"paper-core/internal/order"
	"paper-core/internal/portfolio"
	"paper-core/internal/position"
	"paper-core/pkg/config"
	"paper-core/pkg/db"
	"paper-core/pkg/i18n"
)

func newLogger(level, format string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger = zap.NewExample()
		logger.Warn("invalid LOG_LEVEL, using defaults", zap.String("level", cfg.LogLevel))
	}
	defer func() { _ = logger.Sync() }()

	i18n.SetLanguage(i18n.Language(cfg.Language))
	logger.Info(i18n.M().Starting)
	logger.Info(i18n.M().ConfigLoaded, zap.String("port", cfg.Port))
	logger.Info(i18n.M().UsingDBPath, zap.String("path", cfg.DBPath))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error(i18n.M().DBInitFailed, zap.Error(err))
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logger.Error(i18n.M().DBInitFailed, zap.Error(err))
		return err
	}

	seeds, err := market.LoadSeeds(cfg.MarketConfigPath)
	if err != nil {
		return err
	}

	// Core services
	bus := events.NewBus()
	hub := events.NewHub()
	metrics := monitor.NewSystemMetrics()

	feed := market.NewFeed(seeds, bus, market.FeedConfig{
		Interval:   cfg.TickInterval,
		Volatility: cfg.PriceVolatility,
	}, logger, nil)
	logger.Info(i18n.M().MarketSeeded, zap.Strings("symbols", feed.Symbols()))

	store := order.NewStore(database, feed, order.StoreConfig{
		CommissionRate:  cfg.CommissionRate,
		ConflictRetries: cfg.ConflictRetries,
	}, logger)
	ledger := position.NewLedger(database, bus, hub, position.LedgerConfig{
		ConflictRetries: cfg.ConflictRetries,
	}, logger, metrics)
	portfolios := portfolio.NewAggregator(database, hub, portfolio.Config{
		ConflictRetries: cfg.ConflictRetries,
		CacheTTL:        cfg.SummaryCacheTTL,
	}, logger)
	settler := engine.NewSettler(database, ledger, portfolios, hub, bus, engine.SettlerConfig{
		CommissionRate:  cfg.CommissionRate,
		ConflictRetries: cfg.ConflictRetries,
	}, logger, metrics)
	processor := order.NewProcessor(store, feed, settler, order.ProcessorConfig{
		Interval: cfg.SweepInterval,
		Workers:  cfg.SweepWorkers,
		Sim: order.SimConfig{
			FillProbability: cfg.FillProbability,
			PartialMin:      cfg.PartialMin,
			PartialMax:      cfg.PartialMax,
			SlippageMin:     cfg.SlippageMin,
			SlippageMax:     cfg.SlippageMax,
		},
	}, nil, logger, metrics)
	mon := &monitor.Monitor{
		Bus:     bus,
		Sink:    monitor.LogSink{Logger: logger.Named("alerts")},
		Metrics: metrics,
		Logger:  logger,
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	svc := engine.NewImpl(engine.Config{
		Orders:                store,
		Ledger:                ledger,
		Portfolios:            portfolios,
		Settler:               settler,
		Market:                feed,
		Publisher:             hub,
		Metrics:               metrics,
		Logger:                logger,
		DefaultInitialCapital: cfg.DefaultInitialCapital,
		Version:               buildVersion,
	})

	// API
	server := api.NewServer(api.Options{
		Engine:    svc,
		DB:        database,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    logger,
		JWTSecret: cfg.JWTSecret,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return ledger.Run(gctx) })
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		logger.Info(i18n.M().ServerListening, zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(i18n.M().APIServerError, zap.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(i18n.M().ShuttingDown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
