package engine

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"backtest/internal/candle"
	"backtest/internal/exchange"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/internal/strategy"
	"backtest/internal/trade"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

var ErrAlreadyStarted = errors.New("engine already started")

// Phase is the lifecycle of an engine. An engine runs once.
type Phase uint32

const (
	PhaseInit Phase = iota
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Config describes one run.
type Config struct {
	Mode            schema.Mode
	Symbol          string
	Timeframe       schema.Timeframe
	Timeframes      []schema.Timeframe
	StartingBalance float64
	TradingFee      float64
	Risk            risk.Config
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = schema.ModeBacktest
	}
	tfs := append([]schema.Timeframe{schema.Timeframe1m, c.Timeframe}, c.Timeframes...)
	slices.Sort(tfs)
	c.Timeframes = slices.Compact(tfs)
	return c
}

func (c Config) Validate() error {
	if !c.Mode.IsAvailable() {
		return fmt.Errorf("invalid engine config: unknown mode %q", c.Mode)
	}
	if c.Symbol == "" {
		return fmt.Errorf("invalid engine config: symbol is required")
	}
	for _, tf := range c.Timeframes {
		if !tf.IsAvailable() {
			return fmt.Errorf("invalid engine config: unknown timeframe %d", uint8(tf))
		}
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("invalid engine config: startingBalance must be > 0")
	}
	if c.TradingFee < 0 || c.TradingFee >= 1 {
		return fmt.Errorf("invalid engine config: tradingFee must be in [0, 1)")
	}
	return c.Risk.Validate()
}

// Result is everything a finished backtest produced.
type Result struct {
	StartedAt  int64
	Simulation state.Simulation
	Candles    candle.Stats
	Stats      trade.Stats
	Orders     []order.Order
	Trades     []trade.Trade
	Journal    []obs.Entry
}

// Engine owns the state of one run of one strategy.
type Engine struct {
	cfg      Config
	registry *schema.Registry

	store    *candle.Store
	sim      *state.Simulation
	ledger   *state.Ledger
	book     *order.Book
	journal  *obs.Journal
	metrics  *obs.Metrics
	recorder *trade.Recorder

	strategy strategy.Strategy
	trader   *strategy.Trader
	runner   *strategy.Runner
	venue    Venue

	phase     atomic.Uint32
	startedAt int64
}

// New creates an engine that trades through the inline backtest exchange.
func New(cfg Config, registry *schema.Registry, s strategy.Strategy, metrics *obs.Metrics) (*Engine, error) {
	e, err := newEngine(cfg, registry, s, metrics)
	if err != nil {
		return nil, err
	}
	e.book = order.NewBook()
	e.bind(exchange.NewBacktest(e.sim, e.book, registry))
	return e, nil
}

func newEngine(cfg Config, registry *schema.Registry, s strategy.Strategy, metrics *obs.Metrics) (*Engine, error) {
	if registry == nil || s == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new engine")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := registry.Validate(cfg.Symbol); err != nil {
		return nil, err
	}

	sim := state.NewSimulation(cfg.Mode, cfg.StartingBalance, cfg.TradingFee)
	journal := obs.NewJournal()
	journal.Quiet = cfg.Mode == schema.ModeFitness
	base := s.BaseStrategy()
	return &Engine{
		cfg:      cfg,
		registry: registry,
		store:    candle.NewStore(),
		sim:      sim,
		ledger:   state.NewLedger(cfg.Symbol, sim),
		journal:  journal,
		metrics:  metrics,
		recorder: trade.NewRecorder(base.Name(), base.Version(), cfg.TradingFee),
		strategy: s,
	}, nil
}

func (e *Engine) bind(ex exchange.Exchange) {
	env := &strategy.Env{
		Mode:      e.cfg.Mode,
		Symbol:    e.cfg.Symbol,
		Timeframe: e.cfg.Timeframe,
		Store:     e.store,
		Sim:       e.sim,
		Ledger:    e.ledger,
		Registry:  e.registry,
		Journal:   e.journal,
	}
	e.trader = strategy.NewTrader(ex, env, risk.NewEngine(e.cfg.Risk), e.metrics)
	e.runner = strategy.NewRunner(e.strategy, env, e.trader, e.recorder, e.metrics)
}

func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Simulation() *state.Simulation {
	return e.sim
}

func (e *Engine) Store() *candle.Store {
	return e.store
}

func (e *Engine) Journal() *obs.Journal {
	return e.journal
}

// Snapshot captures the simulation and the open position.
func (e *Engine) Snapshot() state.Snapshot {
	return e.ledger.Snapshot(e.sim.CurrentTime)
}

// Restore resumes a live engine from a snapshot. Only allowed before the engine runs.
func (e *Engine) Restore(snap state.Snapshot) error {
	if e.Phase() != PhaseInit {
		return errors.Wrapf(ErrAlreadyStarted, "restore in phase %s", e.Phase())
	}
	if e.cfg.Mode.IsBacktesting() {
		return errors.Errorf("restore in %s mode", e.cfg.Mode)
	}
	e.ledger.Restore(snap)
	e.sim.Mode = e.cfg.Mode
	return nil
}

func (e *Engine) start() error {
	if !e.phase.CompareAndSwap(uint32(PhaseInit), uint32(PhaseRunning)) {
		return errors.Wrapf(ErrAlreadyStarted, "phase %s", e.Phase())
	}
	e.startedAt = time.Now().UnixMilli()
	return nil
}

// RunBacktest replays 1-minute candles, oldest first, and returns the result
// once the open position has been closed at the last price.
func (e *Engine) RunBacktest(ctx context.Context, candles []schema.Candle) (Result, error) {
	if len(candles) == 0 {
		return Result{}, errors.Wrap(exception.ErrInvalidArgument, "no candles to backtest")
	}
	if !e.cfg.Mode.IsBacktesting() {
		return Result{}, errors.Errorf("backtest in %s mode", e.cfg.Mode)
	}
	if err := e.start(); err != nil {
		return Result{}, err
	}
	defer e.phase.Store(uint32(PhaseFinished))
	e.sim.Reset()

	e.journal.Infof(candles[0].Timestamp, "%s %s started backtesting %s on %s with %d candles",
		e.strategy.BaseStrategy().Name(), e.strategy.BaseStrategy().Version(), e.cfg.Symbol, e.cfg.Timeframe, len(candles))

	for _, tf := range e.cfg.Timeframes {
		seed := candles[0]
		seed.Timeframe = tf
		e.store.Upsert(seed)
	}

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := e.replay(ctx, candles, i, c); err != nil {
			return Result{}, errors.Wrapf(err, "candle %d", c.Timestamp).With("index", i)
		}
	}

	last := candles[len(candles)-1]
	if err := e.runner.End(last.Close); err != nil {
		return Result{}, errors.Wrap(err, "end")
	}
	if n := e.sim.ConflictingOrdersCount; n > 0 {
		e.journal.Errorf(last.Timestamp, "there were %d conflicting orders, the result may be inaccurate", n)
	}
	e.metrics.SetBalance(e.sim.CurrentBalance)

	return Result{
		StartedAt:  e.startedAt,
		Simulation: *e.sim,
		Candles:    candle.Summarize(candles),
		Stats:      trade.Summarize(e.recorder.Trades(), e.sim),
		Orders:     e.book.Snapshot(),
		Trades:     e.recorder.Trades(),
		Journal:    e.journal.Entries(),
	}, nil
}

// Fitness runs a backtest and scores it as the profit percentage of the
// starting balance, rounded to 2 places.
func (e *Engine) Fitness(ctx context.Context, candles []schema.Candle) (float64, error) {
	result, err := e.RunBacktest(ctx, candles)
	if err != nil {
		return 0, err
	}
	return result.Simulation.ProfitPercent(), nil
}

func (e *Engine) replay(ctx context.Context, candles []schema.Candle, i int, c schema.Candle) error {
	e.store.Upsert(c)
	e.sim.CurrentTime = c.Timestamp
	e.sim.CurrentPrice = c.Close
	e.metrics.IncCandle()

	if err := e.match(ctx, c); err != nil {
		return err
	}
	if e.cfg.Timeframe == schema.Timeframe1m {
		if err := e.execute(ctx); err != nil {
			return err
		}
	}

	for _, tf := range e.cfg.Timeframes {
		if tf == schema.Timeframe1m {
			continue
		}
		n, err := tf.CandlesPerBar()
		if err != nil {
			return err
		}
		if (i+1)%n != 0 {
			continue
		}
		window, ok := candle.TrailingWindow(candles, i, n)
		if !ok {
			continue
		}
		bar, err := candle.Synthesize(tf, window)
		if err != nil {
			return err
		}
		e.store.Upsert(bar)
		if tf == e.cfg.Timeframe {
			if err := e.execute(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// match fills the active orders of the traded symbol that c touches. When the
// two most recent orders could both fill on c the fill order is unknown, so
// the strategy cancels instead.
func (e *Engine) match(ctx context.Context, c schema.Candle) error {
	if a, b, ok := e.book.LastTwo(); ok && e.fillable(a, c) && e.fillable(b, c) {
		e.sim.IncConflictingOrders()
		e.metrics.IncConflict()
		return e.recoverFrom(ctx, errors.Wrapf(exception.ErrConflictingOrders, "orders %s @ %v and %s @ %v", a.ID, a.Price, b.ID, b.Price))
	}

	for j := 0; j < e.book.Len(); j++ {
		o := e.book.At(j)
		if !o.IsActive() || o.Symbol != e.cfg.Symbol {
			continue
		}
		if !c.Includes(o.Price) {
			if o.IsTrailingStop() {
				o.Ratchet(e.sim.CurrentPrice, c.Timestamp)
			}
			continue
		}

		o.Execute(c.Timestamp)
		if err := e.runner.HandleExecutedOrder(ctx, o); err != nil {
			if !exception.IsRecoverable(err) {
				return err
			}
			if err := e.recoverFrom(ctx, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) fillable(o *order.Order, c schema.Candle) bool {
	return o.IsActive() && o.Symbol == e.cfg.Symbol && c.Includes(o.Price)
}

func (e *Engine) execute(ctx context.Context) error {
	err := e.runner.Execute(ctx)
	if err == nil {
		return nil
	}
	if !exception.IsRecoverable(err) {
		return err
	}
	return e.recoverFrom(ctx, err)
}

// recoverFrom logs a recoverable error as a warning and lets the strategy cancel.
func (e *Engine) recoverFrom(ctx context.Context, cause error) error {
	e.journal.Warningf(e.sim.CurrentTime, "%v", cause)
	if err := e.strategy.ExecuteCancel(ctx); err != nil {
		return errors.Wrap(err, "cancel after recoverable error")
	}
	return nil
}
