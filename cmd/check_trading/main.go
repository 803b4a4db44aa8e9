package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_core/internal/usecase"
	"go.uber.org/zap"
)

// check_trading runs the risk gate for one hypothetical entry without
// placing anything.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	mode := flag.String("mode", "", "trading mode id (default from config)")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to check")
	userID := flag.Int64("user", 0, "user id for safety counters")
	risk := flag.Float64("risk", 10, "base risk in USD")
	entry := flag.Float64("entry", 0, "entry price (default: last price)")
	sl := flag.Float64("sl", 0, "stop-loss price")
	leverage := flag.Int("leverage", 0, "requested leverage (0 = mode default)")
	confidence := flag.Float64("confidence", usecase.NoConfidence, "signal confidence in [0,1]")
	atrPct := flag.Float64("atr", 0, "ATR as percent of price, enables SL distance check")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := zap.NewNop()
	ex := cfg.Exchange
	adapter := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, log,
		exchange.WithHTTPTimeout(ex.HTTPTimeout),
	)
	store, err := storage.NewSQLiteStore(cfg.Safety.DBPath)
	if err != nil {
		fmt.Printf("Failed to open %s: %v\n", cfg.Safety.DBPath, err)
		os.Exit(1)
	}
	defer store.Close()

	core, err := usecase.NewCore(adapter, store, store, usecase.CoreConfig{
		FillTimeout:   cfg.Execution.FillTimeout,
		PollInterval:  cfg.Execution.PollInterval,
		InstrumentTTL: cfg.Execution.InstrumentTTL,
		CounterTTL:    cfg.Safety.CounterTTL,
		DefaultMode:   cfg.Safety.DefaultMode,
		Modes:         cfg.Modes,
	}, log, nil, usecase.WithOrderBook(exchange.NewOrderBookClient(ex.RESTEndpoint, ex.HTTPTimeout, log)))
	if err != nil {
		fmt.Printf("Failed to init core: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	m := core.Modes.GetOrDefault(*mode)
	fmt.Printf("Mode: %s (%s, %s)\n", m.ID, m.Name, m.Family)

	// 2. Symbol filter
	symRes := core.Symbols.CheckSymbol(ctx, *symbol, m.ID)
	if symRes.Allowed {
		fmt.Printf("✅ Symbol %s allowed\n", *symbol)
	} else {
		fmt.Printf("❌ Symbol blocked: %s\n", symRes.Reason)
	}
	for _, w := range symRes.Warnings {
		fmt.Printf("⚠️ %s\n", w)
	}

	// 3. Safety caps
	safety, err := core.Safety.CheckCanTrade(ctx, *userID, m.ID, *risk)
	if err != nil {
		fmt.Printf("❌ Safety check failed: %v\n", err)
	} else if safety.Allowed {
		fmt.Println("✅ Safety caps clear")
	} else {
		fmt.Printf("❌ Safety blocked: %s\n", safety.Reason)
	}

	// 4. Position sizing
	if *entry == 0 {
		t, err := adapter.GetTicker(ctx, *symbol)
		if err != nil {
			fmt.Printf("❌ No entry price and ticker failed: %v\n", err)
			os.Exit(1)
		}
		*entry = t.LastPrice
	}
	params, err := core.CalculatePositionParams(m.ID, *risk, *entry, *sl, *leverage, *confidence)
	if err != nil {
		fmt.Printf("❌ Sizing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Risk $%.2f -> $%.2f (x%.2f), leverage %dx, SL %.2f%%, notional $%.2f, qty %f, margin $%.2f\n",
		params.BaseRiskUSD, params.AdjustedRiskUSD, params.RiskMultiplier, params.Leverage,
		params.SLDistancePct, params.NotionalUSD, params.Qty, params.MarginUSD)

	if *atrPct > 0 {
		if ok, msg := core.RiskAdjuster(m.ID).ValidateSLDistance(params.SLDistancePct, *atrPct); ok {
			fmt.Printf("✅ SL distance: %s\n", msg)
		} else {
			fmt.Printf("⚠️ SL distance: %s\n", msg)
		}
	}

	if inst, err := core.Catalog.Get(ctx, *symbol); err == nil {
		fmt.Printf("Rounded qty: %s (step %s)\n", inst.RoundQtyDown(params.Qty), inst.QtyStep)
	}
}
