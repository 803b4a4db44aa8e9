package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_core/internal/usecase"
	"github.com/vitos/crypto_trade_core/internal/web"
	"go.uber.org/zap"
)

const purgeInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level, logger.FileOptions{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		})
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
		if err != nil {
			fmt.Printf("Failed to init logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. Init Storage
	if err := os.MkdirAll(filepath.Dir(cfg.Safety.DBPath), 0o755); err != nil {
		log.Fatal("Failed to create data dir", zap.Error(err))
	}
	store, err := storage.NewSQLiteStore(cfg.Safety.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := store.PurgeExpired(ctx); err != nil {
					log.Warn("Failed to purge expired counters", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// 5. Init Exchange
	ex := cfg.Exchange
	if ex.APIKey == "" || ex.APISecret == "" {
		log.Warn("Exchange credentials missing, private endpoints will fail")
	}
	bybit := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, log,
		exchange.WithHTTPTimeout(ex.HTTPTimeout),
		exchange.WithRecvWindow(ex.RecvWindowMs),
		exchange.WithRateLimit(ex.RateLimitRPS, ex.RateBurst),
		exchange.WithMetrics(m),
	)

	symbolOpts := []usecase.SymbolFilterOption{
		usecase.WithOrderBook(exchange.NewOrderBookClient(ex.RESTEndpoint, ex.HTTPTimeout, log)),
	}
	if cfg.Stream.Enabled && len(cfg.Stream.Symbols) > 0 {
		stream := exchange.NewTickerStream(ex.WSEndpoint, cfg.Stream.MaxTickerAge, log)
		go stream.Run(ctx, cfg.Stream.Symbols)
		symbolOpts = append(symbolOpts, usecase.WithTickerCache(stream))
	}

	// 6. Init Core
	exe := cfg.Execution
	core, err := usecase.NewCore(bybit, store, store, usecase.CoreConfig{
		FillTimeout:        exe.FillTimeout,
		PollInterval:       exe.PollInterval,
		SettleDelay:        exe.SettleDelay,
		RetryDelay:         exe.RetryDelay,
		CloseMaxRetries:    exe.CloseMaxRetries,
		InstrumentTTL:      exe.InstrumentTTL,
		TPPriceBufferPct:   exe.TPPriceBufferPct,
		BreakevenBufferPct: exe.BreakevenBufferPct,
		CounterTTL:         cfg.Safety.CounterTTL,
		DefaultMode:        cfg.Safety.DefaultMode,
		Modes:              cfg.Modes,
	}, log, m, symbolOpts...)
	if err != nil {
		log.Fatal("Failed to init core", zap.Error(err))
	}

	// 7. Start Server
	server := web.NewServer(cfg.Server.Port, core, reg, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
