package ops

import (
	"fmt"
	"os"
	"time"

	"backtest/internal/engine"
	"backtest/internal/exchange"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/pkg/conn"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const (
	DataSourceCSV      = "csv"
	DataSourcePostgres = "postgres"

	defaultQueueSize    = 1024
	defaultArtifactsDir = "storage"
	defaultMetricsAddr  = ":9090"
	defaultProfilingApp = "backtest"
	defaultStrategy     = "emacross"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	App       AppConfig          `json:"app"`
	Account   AccountConfig      `json:"account"`
	Risk      risk.Config        `json:"risk"`
	Data      DataConfig         `json:"data"`
	Live      LiveConfig         `json:"live"`
	Artifacts ArtifactsConfig    `json:"artifacts"`
	Features  FeatureFlagsConfig `json:"features"`
	Profiling ProfilingConfig    `json:"profiling"`
	Metrics   MetricsConfig      `json:"metrics"`
}

// AppConfig selects what is traded and which timeframes are kept.
type AppConfig struct {
	Mode             schema.Mode    `json:"mode"`
	Strategy         string         `json:"strategy"`
	TradingSymbol    string         `json:"tradingSymbol"`
	TradingTimeframe string         `json:"tradingTimeframe"`
	Symbols          []SymbolConfig `json:"symbols"`
	Timeframes       []string       `json:"timeframes"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name string  `json:"name"`
	Pip  float64 `json:"pip"`
}

type AccountConfig struct {
	StartingBalance float64 `json:"startingBalance"`
	TradingFee      float64 `json:"tradingFee"`
}

// DataConfig selects where historical candles come from. From and To bound
// the postgres query in unix ms; zero leaves the side open.
type DataConfig struct {
	Source   string      `json:"source"`
	CSVPath  string      `json:"csvPath"`
	From     int64       `json:"from"`
	To       int64       `json:"to"`
	Postgres conn.Option `json:"postgres"`
}

// LiveConfig holds the venue connection. Durations use time.ParseDuration syntax.
type LiveConfig struct {
	URL            string `json:"url"`
	APIKey         string `json:"apiKey"`
	APISecret      string `json:"apiSecret"`
	ReconnectDelay string `json:"reconnectDelay"`
	RequestTimeout string `json:"requestTimeout"`
	QueueSize      int    `json:"queueSize"`
}

type ArtifactsConfig struct {
	Dir string `json:"dir"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableArtifacts *bool `json:"enableArtifacts"`
	EnableProfiling *bool `json:"enableProfiling"`
	EnableMetrics   *bool `json:"enableMetrics"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableArtifacts bool
	EnableProfiling bool
	EnableMetrics   bool
}

type ProfilingConfig struct {
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

type MetricsConfig struct {
	Addr string `json:"addr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Strategy  string
	Registry  *schema.Registry
	Engine    engine.Config
	Data      DataConfig
	Live      exchange.LiveConfig
	QueueSize int
	Artifacts ArtifactsConfig
	Features  FeatureFlags
	Profiling ProfilingConfig
	Metrics   MetricsConfig
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse resolves a JSON config document.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg.Resolve()
}

// Resolve validates the file config and applies defaults.
func (cfg FileConfig) Resolve() (Loaded, error) {
	registry, err := buildRegistry(cfg.App.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	engineCfg, err := resolveEngine(cfg)
	if err != nil {
		return Loaded{}, err
	}
	if err := registry.Validate(engineCfg.Symbol); err != nil {
		return Loaded{}, fmt.Errorf("invalid app config: %w", err)
	}
	if err := validateData(cfg.Data); err != nil {
		return Loaded{}, err
	}
	live, queueSize, err := resolveLive(cfg.Live)
	if err != nil {
		return Loaded{}, err
	}
	if engineCfg.Mode.IsLive() {
		if err := live.Validate(); err != nil {
			return Loaded{}, err
		}
	}

	data := cfg.Data
	if data.Source == "" {
		data.Source = DataSourceCSV
	}
	artifacts := cfg.Artifacts
	if artifacts.Dir == "" {
		artifacts.Dir = defaultArtifactsDir
	}
	profiling := cfg.Profiling
	if profiling.ApplicationName == "" {
		profiling.ApplicationName = defaultProfilingApp
	}
	metrics := cfg.Metrics
	if metrics.Addr == "" {
		metrics.Addr = defaultMetricsAddr
	}
	features := resolveFeatures(cfg.Features)
	if features.EnableProfiling && profiling.ServerAddress == "" {
		return Loaded{}, fmt.Errorf("invalid profiling config: serverAddress is required when profiling is enabled")
	}

	strategyName := cfg.App.Strategy
	if strategyName == "" {
		strategyName = defaultStrategy
	}

	return Loaded{
		Strategy:  strategyName,
		Registry:  registry,
		Engine:    engineCfg,
		Data:      data,
		Live:      live,
		QueueSize: queueSize,
		Artifacts: artifacts,
		Features:  features,
		Profiling: profiling,
		Metrics:   metrics,
	}, nil
}

func buildRegistry(symbols []SymbolConfig) (*schema.Registry, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("invalid app config: at least one symbol is required")
	}
	reg := schema.NewRegistry()
	for _, sym := range symbols {
		if err := reg.AddSymbol(sym.Name, sym.Pip); err != nil {
			return nil, fmt.Errorf("invalid symbol %q: %w", sym.Name, err)
		}
	}
	return reg, nil
}

func resolveEngine(cfg FileConfig) (engine.Config, error) {
	mode := cfg.App.Mode
	if mode == "" {
		mode = schema.ModeBacktest
	}
	if !mode.IsAvailable() {
		return engine.Config{}, fmt.Errorf("invalid app config: unknown mode %q", mode)
	}
	tf, err := schema.ParseTimeframe(cfg.App.TradingTimeframe)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid app config: tradingTimeframe: %w", err)
	}
	tracked := make([]schema.Timeframe, 0, len(cfg.App.Timeframes))
	for _, s := range cfg.App.Timeframes {
		t, err := schema.ParseTimeframe(s)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid app config: timeframes: %w", err)
		}
		tracked = append(tracked, t)
	}
	if cfg.Account.StartingBalance <= 0 {
		return engine.Config{}, fmt.Errorf("invalid account config: startingBalance must be > 0")
	}
	if cfg.Account.TradingFee < 0 || cfg.Account.TradingFee >= 1 {
		return engine.Config{}, fmt.Errorf("invalid account config: tradingFee must be in [0, 1)")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Mode:            mode,
		Symbol:          cfg.App.TradingSymbol,
		Timeframe:       tf,
		Timeframes:      tracked,
		StartingBalance: cfg.Account.StartingBalance,
		TradingFee:      cfg.Account.TradingFee,
		Risk:            cfg.Risk,
	}, nil
}

func validateData(cfg DataConfig) error {
	switch cfg.Source {
	case "", DataSourceCSV, DataSourcePostgres:
	default:
		return fmt.Errorf("invalid data config: unknown source %q", cfg.Source)
	}
	if cfg.From < 0 || cfg.To < 0 || (cfg.To != 0 && cfg.To < cfg.From) {
		return fmt.Errorf("invalid data config: bad range %d ~ %d", cfg.From, cfg.To)
	}
	return nil
}

func resolveLive(cfg LiveConfig) (exchange.LiveConfig, int, error) {
	reconnect, err := parseDuration(cfg.ReconnectDelay)
	if err != nil {
		return exchange.LiveConfig{}, 0, fmt.Errorf("invalid live config: reconnectDelay: %w", err)
	}
	timeout, err := parseDuration(cfg.RequestTimeout)
	if err != nil {
		return exchange.LiveConfig{}, 0, fmt.Errorf("invalid live config: requestTimeout: %w", err)
	}
	if cfg.QueueSize < 0 {
		return exchange.LiveConfig{}, 0, fmt.Errorf("invalid live config: queueSize must be >= 0")
	}
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}
	return exchange.LiveConfig{
		URL:            cfg.URL,
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		ReconnectDelay: reconnect,
		RequestTimeout: timeout,
	}, queueSize, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableArtifacts: true,
	}
	if cfg.EnableArtifacts != nil {
		flags.EnableArtifacts = *cfg.EnableArtifacts
	}
	if cfg.EnableProfiling != nil {
		flags.EnableProfiling = *cfg.EnableProfiling
	}
	if cfg.EnableMetrics != nil {
		flags.EnableMetrics = *cfg.EnableMetrics
	}
	return flags
}
