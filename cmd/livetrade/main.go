package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"backtest/internal/bus"
	"backtest/internal/engine"
	"backtest/internal/exchange"
	"backtest/internal/obs"
	"backtest/internal/ops"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/internal/strategy"
	"backtest/internal/strategy/emacross"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "config/livetrade.json", "Path to JSON config")
	restorePath := flag.String("restore", "", "Resume from a state snapshot")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	loaded.Engine.Mode = schema.ModeLivetrade
	if err := loaded.Live.Validate(); err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if loaded.Features.EnableProfiling {
		stop, err := obs.StartProfiler(loaded.Profiling.ApplicationName, loaded.Profiling.ServerAddress,
			map[string]string{"mode": string(loaded.Engine.Mode), "symbol": loaded.Engine.Symbol})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer stop()
	}

	metrics := obs.NewMetrics()
	queue := bus.NewQueue(loaded.QueueSize)
	live, err := exchange.NewLive(loaded.Live, queue, exchange.DialWebSocket)
	if err != nil {
		log.Fatalf("create live exchange failed: %v", err)
	}
	live = live.WithMetrics(metrics)

	s, err := newStrategy(loaded.Strategy)
	if err != nil {
		log.Fatalf("create strategy failed: %v", err)
	}
	e, err := engine.NewLive(loaded.Engine, loaded.Registry, s, live, metrics)
	if err != nil {
		log.Fatalf("create engine failed: %v", err)
	}
	if *restorePath != "" {
		snap, err := state.ReadSnapshot(*restorePath)
		if err != nil {
			log.Fatalf("read snapshot failed: %v", err)
		}
		if err := e.Restore(snap); err != nil {
			log.Fatalf("restore snapshot failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg := e.Config()
	for _, tf := range cfg.Timeframes {
		if err := live.Subscribe(ctx, exchange.Subscription{Channel: exchange.ChannelCandles, Symbol: cfg.Symbol, Timeframe: tf}); err != nil {
			log.Fatalf("subscribe candles failed: %v", err)
		}
	}
	for _, channel := range []string{exchange.ChannelOrders, exchange.ChannelPositions} {
		if err := live.Subscribe(ctx, exchange.Subscription{Channel: channel, Symbol: cfg.Symbol}); err != nil {
			log.Fatalf("subscribe %s failed: %v", channel, err)
		}
	}

	var server *http.Server
	if loaded.Features.EnableMetrics {
		server, err = serveMetrics(loaded.Metrics.Addr, metrics)
		if err != nil {
			log.Fatalf("serve metrics failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := live.Run(ctx); err != nil {
			logs.Errorf("live exchange stopped, err: %+v", err)
		}
		queue.Close()
	}()

	runErr := e.RunLive(ctx, queue)
	cancel()
	wg.Wait()

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		stop()
	}

	snapshotPath := filepath.Join(loaded.Artifacts.Dir, "state", strconv.FormatInt(time.Now().UnixMilli(), 10)+".json")
	if err := state.WriteSnapshot(snapshotPath, e.Snapshot()); err != nil {
		logs.Errorf("write snapshot, err: %+v", err)
	} else {
		logs.Infof("state snapshot written: %s", snapshotPath)
	}

	if runErr != nil {
		log.Fatalf("livetrade failed: %v", runErr)
	}
}

func serveMetrics(addr string, metrics *obs.Metrics) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server stopped, err: %+v", err)
		}
	}()
	logs.Infof("metrics listening: %s", addr)
	return server, nil
}

func newStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case "emacross":
		return emacross.New(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
