package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"backtest/internal/candle"
	"backtest/internal/engine"
	"backtest/internal/obs"
	"backtest/internal/ops"
	"backtest/internal/report"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/internal/strategy"
	"backtest/internal/strategy/emacross"
	"backtest/pkg/conn"

	"github.com/yanun0323/logs"
)

func main() {
	configPath := flag.String("config", "config/backtest.json", "Path to JSON config")
	modeFlag := flag.String("mode", "", "Override app.mode (backtest|fitness)")
	csvPath := flag.String("csv", "", "Read candles from this CSV file instead of data.source")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *modeFlag != "" {
		loaded.Engine.Mode = schema.Mode(*modeFlag)
	}
	if !loaded.Engine.Mode.IsBacktesting() {
		log.Fatalf("invalid mode: %q is not a backtesting mode", loaded.Engine.Mode)
	}
	if *csvPath != "" {
		loaded.Data.Source = ops.DataSourceCSV
		loaded.Data.CSVPath = *csvPath
	}

	if loaded.Features.EnableProfiling {
		stop, err := obs.StartProfiler(loaded.Profiling.ApplicationName, loaded.Profiling.ServerAddress,
			map[string]string{"mode": string(loaded.Engine.Mode), "symbol": loaded.Engine.Symbol})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candles, err := loadCandles(ctx, loaded)
	if err != nil {
		log.Fatalf("load candles failed: %v", err)
	}

	s, err := newStrategy(loaded.Strategy)
	if err != nil {
		log.Fatalf("create strategy failed: %v", err)
	}
	e, err := engine.New(loaded.Engine, loaded.Registry, s, obs.NewMetrics())
	if err != nil {
		log.Fatalf("create engine failed: %v", err)
	}

	if loaded.Engine.Mode == schema.ModeFitness {
		score, err := e.Fitness(ctx, candles)
		if err != nil {
			log.Fatalf("fitness failed: %v", err)
		}
		fmt.Println(score)
		return
	}

	result, err := e.RunBacktest(ctx, candles)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	report.Print(result)

	if !loaded.Features.EnableArtifacts {
		return
	}
	paths, err := report.Write(loaded.Artifacts.Dir, result)
	if err != nil {
		log.Fatalf("write artifacts failed: %v", err)
	}
	snapshotPath := filepath.Join(loaded.Artifacts.Dir, "state", strconv.FormatInt(result.StartedAt, 10)+".json")
	if err := state.WriteSnapshot(snapshotPath, e.Snapshot()); err != nil {
		log.Fatalf("write snapshot failed: %v", err)
	}
	logs.Infof("artifacts written: %s, %s, %s, %s", paths.Orders, paths.Trades, paths.ActionLog, snapshotPath)
}

func loadCandles(ctx context.Context, loaded ops.Loaded) ([]schema.Candle, error) {
	symbol := loaded.Engine.Symbol
	switch loaded.Data.Source {
	case ops.DataSourcePostgres:
		client, err := conn.New(loaded.Data.Postgres)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return candle.NewRepository(client.DB()).Load(ctx, symbol, schema.Timeframe1m, loaded.Data.From, loaded.Data.To)
	default:
		if loaded.Data.CSVPath == "" {
			return nil, fmt.Errorf("data.csvPath is empty; use -csv")
		}
		return candle.LoadCSVFile(loaded.Data.CSVPath, symbol)
	}
}

func newStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case "emacross":
		return emacross.New(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
