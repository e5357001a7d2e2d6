package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinewatch/config"
	"klinewatch/internal/archive"
	"klinewatch/internal/market"
	"klinewatch/internal/stream"
	"klinewatch/internal/trading"
	"klinewatch/logger"
	"klinewatch/pkg/bybit"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env overrides before viper reads the environment
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	if !bybit.KlineInterval(cfg.Watch.Timeframe).IsValid() {
		log.Warn("unknown timeframe code, history window assumes 1 minute",
			zap.String("timeframe", cfg.Watch.Timeframe))
	}

	rest := bybit.NewRESTClient(cfg.Bybit.REST.BaseURL, cfg.Bybit.REST.Timeout)
	loader := market.NewLoader(rest, cfg.Bybit.REST.Category)

	var transport stream.Transport
	switch cfg.Stream.Transport {
	case "hub":
		transport = stream.NewHubTransport(cfg.Hub.URL, log)
	default:
		transport = stream.NewBybitTransport(cfg.Bybit.WS.URL, log)
	}
	log.Info("using stream transport", zap.String("transport", cfg.Stream.Transport))

	opts := market.FeedOptions{
		OnUpdate: func(s market.Snapshot) {
			log.Debug("feed update",
				zap.String("symbol", s.Symbol),
				zap.String("timeframe", s.Timeframe),
				zap.Float64("price", s.CurrentPrice),
				zap.Float64("change24h", s.PriceChange24h),
				zap.Int("candles", len(s.Candles)),
				zap.String("state", string(s.ConnState)),
			)
		},
	}

	done := make(chan struct{})

	if cfg.Archive.Enabled {
		arch, err := archive.InitializeAndMigrate(cfg.Archive.Postgres, cfg.Log.Environment, true)
		if err != nil {
			log.Fatal("failed to initialize candle archive", zap.Error(err))
		}
		defer arch.Close()
		opts.Archiver = arch
		go archiveMaintenance(arch, cfg.Archive.Retention, log, done)
		log.Info("candle archive enabled", zap.Duration("retention", cfg.Archive.Retention))
	}

	if cfg.Trading.BaseURL != "" && cfg.Trading.Email != "" {
		client := trading.NewClient(cfg.Trading.BaseURL, cfg.Trading.Timeout, log)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := client.Login(ctx, cfg.Trading.Email, cfg.Trading.Password); err != nil {
			log.Warn("trading login failed", zap.Error(err))
		} else {
			log.Info("trading login ok", zap.String("email", client.Email()))
		}
		cancel()
	}

	feed := market.NewFeed(transport, loader, log, opts)
	feed.Start(cfg.Watch.Symbol, cfg.Watch.Timeframe)
	log.Info("watching",
		zap.String("symbol", cfg.Watch.Symbol),
		zap.String("timeframe", cfg.Watch.Timeframe),
	)

	// Periodically report the snapshot for visibility
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s := feed.Snapshot()
				log.Info("snapshot",
					zap.Float64("price", s.CurrentPrice),
					zap.Float64("change24h", s.PriceChange24h),
					zap.Float64("volume24h", s.Volume24h),
					zap.Int("candles", len(s.Candles)),
					zap.String("state", string(s.ConnState)),
				)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(done)
	feed.Close()
	log.Info("shutdown complete")
}

// archiveMaintenance periodically checks archive connectivity and prunes
// candles older than the retention window.
func archiveMaintenance(arch *archive.PostgresArchive, retention time.Duration, log *zap.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if !arch.IsHealthy(ctx) {
				log.Warn("candle archive unhealthy")
			} else if err := arch.Prune(ctx, time.Now().Add(-retention)); err != nil {
				log.Warn("failed to prune candle archive", zap.Error(err))
			}
			cancel()
		}
	}
}
