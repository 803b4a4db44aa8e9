package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_core/internal/config"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to probe")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ex := cfg.Exchange
	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", ex.RESTEndpoint)
	if len(ex.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", ex.APIKey[:4])
	}

	log := zap.NewNop()
	adapter := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, log,
		exchange.WithHTTPTimeout(ex.HTTPTimeout),
		exchange.WithRecvWindow(ex.RecvWindowMs),
	)
	book := exchange.NewOrderBookClient(ex.RESTEndpoint, ex.HTTPTimeout, log)
	ctx := context.Background()

	// 2. Public endpoints
	inst, err := adapter.GetInstrument(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
	} else {
		fmt.Printf("✅ Instrument (%s): qtyStep=%s tick=%s minQty=%s leverage=%g-%g\n",
			inst.Symbol, inst.QtyStep, inst.TickSize, inst.MinQty, inst.MinLeverage, inst.MaxLeverage)
	}

	ticker, err := adapter.GetTicker(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get ticker: %v\n", err)
	} else {
		fmt.Printf("✅ Ticker (%s): last=%f mark=%f spread=%.4f%% turnover24h=%.0f funding=%+.4f%%\n",
			ticker.Symbol, ticker.LastPrice, ticker.MarkPrice, ticker.SpreadPct(), ticker.Turnover24h, ticker.FundingRate*100)
	}

	bid, ask, err := book.TopOfBook(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get order book: %v\n", err)
	} else {
		fmt.Printf("✅ Order book (%s): bid=%f ask=%f\n", *symbol, bid, ask)
	}

	// 3. Private endpoints
	positions, err := adapter.GetPositions(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else {
		for _, pos := range positions {
			fmt.Printf("✅ Position (%s): Size=%f, Side=%s, Entry=%f, SL=%f, TP=%f, PnL=%f\n",
				pos.Symbol, pos.Size, pos.Side, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.UnrealizedPnL)
		}
		if len(positions) == 0 {
			fmt.Printf("✅ No position on %s\n", *symbol)
		}
	}

	orders, err := adapter.GetOpenOrders(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get open orders: %v\n", err)
	} else {
		fmt.Printf("✅ Open orders (%s): %d\n", *symbol, len(orders))
	}
}
