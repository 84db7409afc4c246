package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/feed/asterdex"
	"fundingflow/feed/binance"
	"fundingflow/feed/bybit"
	"fundingflow/feed/hyperliquid"
	"fundingflow/feed/kucoin"
	"fundingflow/feed/okx"
	"fundingflow/logger"
	"fundingflow/metadata"
	"fundingflow/metrics"
	"fundingflow/scorer"
	"fundingflow/server"
	"fundingflow/universe"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Fundingflow.Name,
		"version":     cfg.Fundingflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting fundingflow")

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	} else if env := config.AppEnvironment(); config.IsProductionLike(env) {
		log.WithField("environment", env).Warn("running a production-like environment without CloudWatch metrics")
	}

	uni, err := universe.Load(cfg.Universe.Path)
	if err != nil {
		log.WithError(err).Error("Failed to load instrument universe")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metadata.NewRegistry(cfg.Metadata)
	if err := registry.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start metadata registry")
		os.Exit(1)
	}
	defer registry.Stop()

	adapters := buildAdapters(cfg, uni)
	if len(adapters) == 0 {
		log.Error("No venue feeds enabled")
		os.Exit(1)
	}

	for venue, adapter := range adapters {
		if err := adapter.Connect(ctx); err != nil {
			log.WithField("venue", venue).WithError(err).Error("Failed to start venue feed")
			os.Exit(1)
		}
	}
	defer func() {
		for _, adapter := range adapters {
			adapter.Disconnect()
		}
	}()

	sc := scorer.New(adapters, registry, uni, scorer.Options{
		NotionalUSD:     cfg.Scorer.TradeNotionalUSD,
		TakerFeeRate:    cfg.Scorer.TakerFeeRate,
		FreshnessWindow: cfg.Scorer.FreshnessWindow(),
		MinPriceRatio:   cfg.Scorer.MinPriceRatio,
		MaxPriceRatio:   cfg.Scorer.MaxPriceRatio,
	})
	runner := scorer.NewRunner(sc, adapters, uni, cfg.Scorer)
	if err := runner.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start scorer")
		os.Exit(1)
	}
	defer runner.Stop()

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, runner, adapters)
		if err := srv.Start(ctx); err != nil {
			log.WithError(err).Error("Failed to start http server")
			os.Exit(1)
		}
		defer srv.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	cancel()
}

// buildAdapters constructs an adapter for every enabled venue. Per-symbol
// venues subscribe only to instruments the universe maps onto them.
func buildAdapters(cfg *config.Config, uni *universe.Universe) map[string]feed.Adapter {
	log := logger.GetLogger()
	adapters := make(map[string]feed.Adapter)

	if cfg.Feeds.Binance.Enabled {
		adapters[binance.Venue] = binance.NewReader(cfg.Feeds.Binance)
	}
	if cfg.Feeds.Asterdex.Enabled {
		adapters[asterdex.Venue] = asterdex.NewReader(cfg.Feeds.Asterdex)
	}
	if cfg.Feeds.Okx.Enabled {
		if symbols := uni.VenueSymbols(okx.Venue); len(symbols) > 0 {
			adapters[okx.Venue] = okx.NewReader(cfg.Feeds.Okx, symbols)
		} else {
			log.WithField("venue", okx.Venue).Warn("venue enabled but universe maps no instruments to it")
		}
	}
	if cfg.Feeds.Bybit.Enabled {
		if symbols := uni.VenueSymbols(bybit.Venue); len(symbols) > 0 {
			adapters[bybit.Venue] = bybit.NewReader(cfg.Feeds.Bybit, symbols)
		} else {
			log.WithField("venue", bybit.Venue).Warn("venue enabled but universe maps no instruments to it")
		}
	}
	if cfg.Feeds.Hyperliquid.Enabled {
		adapters[hyperliquid.Venue] = hyperliquid.NewReader(cfg.Feeds.Hyperliquid)
	}
	if cfg.Feeds.Kucoin.Enabled {
		if symbols := uni.VenueSymbols(kucoin.Venue); len(symbols) > 0 {
			adapters[kucoin.Venue] = kucoin.NewReader(cfg.Feeds.Kucoin, symbols)
		} else {
			log.WithField("venue", kucoin.Venue).Warn("venue enabled but universe maps no instruments to it")
		}
	}
	return adapters
}
