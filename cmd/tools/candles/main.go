package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"backtest/internal/candle"
	"backtest/internal/ops"
	"backtest/pkg/conn"

	"github.com/yanun0323/logs"
)

// candles imports a CSV of 1-minute candles into the postgres candle table.
func main() {
	configPath := flag.String("config", "config/backtest.json", "Path to JSON config (data.postgres is used)")
	csvPath := flag.String("csv", "", "CSV file to import")
	symbol := flag.String("symbol", "", "Symbol of the candles (default: app.tradingSymbol)")
	flag.Parse()

	if *csvPath == "" {
		log.Fatalf("missing csv; use -csv")
	}
	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	name := *symbol
	if name == "" {
		name = loaded.Engine.Symbol
	}
	if err := loaded.Registry.Validate(name); err != nil {
		log.Fatalf("invalid symbol: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candles, err := candle.LoadCSVFile(*csvPath, name)
	if err != nil {
		log.Fatalf("read csv failed: %v", err)
	}

	client, err := conn.New(loaded.Data.Postgres)
	if err != nil {
		log.Fatalf("connect postgres failed: %v", err)
	}
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		log.Fatalf("connect postgres failed: %v", err)
	}

	repo := candle.NewRepository(client.DB())
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	if err := repo.Save(ctx, candles); err != nil {
		log.Fatalf("save candles failed: %v", err)
	}
	logs.Infof("imported %d %s candles from %s", len(candles), name, *csvPath)
}
