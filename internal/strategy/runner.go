package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/trade"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Phase is the re-entrancy state of a runner.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseExecuting
)

func (p Phase) String() string {
	if p == PhaseExecuting {
		return "executing"
	}
	return "idle"
}

// Runner drives one strategy: the per-candle pipeline and fill handling.
type Runner struct {
	strategy Strategy
	base     *Base
	env      *Env
	recorder *trade.Recorder
	metrics  *obs.Metrics

	phase atomic.Uint32
}

// NewRunner binds s to env and trader.
func NewRunner(s Strategy, env *Env, trader *Trader, recorder *trade.Recorder, metrics *obs.Metrics) *Runner {
	base := s.BaseStrategy()
	base.env = env
	base.Trader = trader
	return &Runner{
		strategy: s,
		base:     base,
		env:      env,
		recorder: recorder,
		metrics:  metrics,
	}
}

func (r *Runner) Strategy() Strategy {
	return r.strategy
}

func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

// Execute runs one pass of the pipeline. It warns and returns while the
// warm-up is incomplete, and drops the call when a pass is already running.
func (r *Runner) Execute(ctx context.Context) error {
	count := r.env.Store.Count(r.env.Symbol, r.env.Timeframe)
	if min := r.base.MinimumCandles(); count < min {
		r.env.Journal.Warningf(r.env.Sim.CurrentTime, "%s requires %d candles to begin executing, but there's only %d candles present.",
			r.base.Name(), min, count)
		return nil
	}

	if !r.phase.CompareAndSwap(uint32(PhaseIdle), uint32(PhaseExecuting)) {
		r.metrics.IncDroppedPass()
		return nil
	}
	defer r.phase.Store(uint32(PhaseIdle))

	start := time.Now()
	defer func() { r.metrics.ObserveExecution(time.Since(start)) }()

	if err := r.strategy.Update(ctx); err != nil {
		return errors.Wrap(err, "update")
	}
	if err := r.check(ctx); err != nil {
		return err
	}
	return r.flushExecuted(ctx)
}

func (r *Runner) check(ctx context.Context) error {
	if c, ok := r.strategy.(Checker); ok {
		return c.Check(ctx)
	}

	s := r.strategy
	if s.ShouldAcceptLossEarly() {
		if err := s.ExecuteAcceptLossEarly(ctx); err != nil {
			return errors.Wrap(err, "accept loss early")
		}
	}
	if s.ShouldTakeProfitEarly() {
		if err := s.ExecuteTakeProfitEarly(ctx); err != nil {
			return errors.Wrap(err, "take profit early")
		}
	}
	if s.ShouldCancel() {
		if err := s.ExecuteCancel(ctx); err != nil {
			return errors.Wrap(err, "cancel")
		}
	}
	if s.ShouldWait() {
		return nil
	}

	buy, sell := s.ShouldBuy(), s.ShouldSell()
	if buy && sell {
		return errors.Wrapf(exception.ErrConflictingSignals, "strategy %s", r.base.Name())
	}
	if buy {
		if err := s.ExecuteBuy(ctx); err != nil {
			return errors.Wrap(err, "buy")
		}
	}
	if sell {
		if err := s.ExecuteSell(ctx); err != nil {
			return errors.Wrap(err, "sell")
		}
	}
	if s.ShouldIncreasePositionSize() {
		if err := s.ExecuteIncreasePositionSize(ctx); err != nil {
			return errors.Wrap(err, "increase position size")
		}
	}
	if s.ShouldReducePositionSize() {
		if err := s.ExecuteReducePositionSize(ctx); err != nil {
			return errors.Wrap(err, "reduce position size")
		}
	}
	return nil
}

// HandleExecutedOrder matches a filled order against the tracked references.
// While backtesting it settles the fill on the ledger, then records the trade
// and calls the matching hook. Untracked orders are ignored.
func (r *Runner) HandleExecutedOrder(ctx context.Context, o *order.Order) error {
	b, s := r.base, r.strategy

	var (
		logType trade.LogType
		hook    func(context.Context) error
	)
	switch {
	case matches(b.OpenPositionOrder, o):
		logType, hook = trade.LogOpen, s.OnOpenPosition
	case matches(b.StopLossOrder, o):
		logType, hook = trade.LogClose, s.OnStopLoss
	case matches(b.TakeProfitOrder, o):
		logType, hook = trade.LogClose, s.OnTakeProfit
	case matches(b.IncreasePositionOrder, o):
		logType, hook = trade.LogIncrease, s.OnIncreasedPosition
	case matches(b.ReducePositionOrder, o):
		logType, hook = trade.LogReduce, s.OnReducedPosition
	default:
		return nil
	}

	r.metrics.IncOrderExecuted()
	r.env.Journal.Infof(o.ExecutedAt, "executed a %s %s order for %v @ %v", o.Side, o.Type, o.Quantity, o.Price)

	if r.env.Mode.IsBacktesting() {
		if err := r.settle(o, logType); err != nil {
			return err
		}
	}

	levels := trade.Levels{StopLoss: b.StopLossPrice, TakeProfit: b.TakeProfitPrice}
	if err := r.recorder.Record(*o, logType, levels, o.ExecutedAt); err != nil {
		return err
	}
	if err := hook(ctx); err != nil {
		return errors.Wrapf(err, "%s hook", logType)
	}
	return r.flushExecuted(ctx)
}

func (r *Runner) settle(o *order.Order, logType trade.LogType) error {
	ledger := r.env.Ledger
	switch logType {
	case trade.LogOpen:
		return ledger.Update(o.Quantity, o.Price)
	case trade.LogIncrease:
		ledger.Increase(o.Quantity, o.Price)
	case trade.LogClose:
		return ledger.Close(o.Price)
	case trade.LogReduce:
		return ledger.Reduce(o.Quantity, o.Price)
	}
	return nil
}

// flushExecuted hands market orders filled inline to the strategy.
func (r *Runner) flushExecuted(ctx context.Context) error {
	trader := r.base.Trader
	if trader == nil {
		return nil
	}
	for _, o := range trader.TakeExecuted() {
		if err := r.HandleExecutedOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// End force-closes an open position at price so an unfinished trade does not
// skew the statistics. Only used while backtesting.
func (r *Runner) End(price float64) error {
	if !r.env.Mode.IsBacktesting() {
		return nil
	}
	if !r.env.Ledger.Position().IsOpen() {
		return nil
	}
	if err := r.env.Ledger.Close(price); err != nil {
		return err
	}
	r.env.Journal.Infof(r.env.Sim.CurrentTime, "finished backtest, closed the open position at %v to exclude it from the stats", price)
	return nil
}

func matches(tracked, filled *order.Order) bool {
	return tracked != nil && tracked.ID == filled.ID
}
