package engine

import (
	"context"

	"backtest/internal/bus"
	"backtest/internal/exchange"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/strategy"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Venue is the live exchange as the engine loop sees it. Orders it returns
// are only mutated by the engine loop.
type Venue interface {
	exchange.Exchange
	Order(id string) (*order.Order, bool)
}

var _ Venue = (*exchange.Live)(nil)

// NewLive creates an engine that trades through venue.
func NewLive(cfg Config, registry *schema.Registry, s strategy.Strategy, venue Venue, metrics *obs.Metrics) (*Engine, error) {
	if venue == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new live engine: venue")
	}
	cfg.Mode = schema.ModeLivetrade
	e, err := newEngine(cfg, registry, s, metrics)
	if err != nil {
		return nil, err
	}
	e.venue = venue
	e.bind(venue)
	return e, nil
}

// RunLive consumes venue events until ctx is done or the queue is closed.
// It is the only goroutine that touches the run state.
func (e *Engine) RunLive(ctx context.Context, queue *bus.Queue) error {
	if e.venue == nil {
		return errors.Errorf("live loop on a %s engine", e.cfg.Mode)
	}
	if err := e.start(); err != nil {
		return err
	}
	defer e.phase.Store(uint32(PhaseFinished))

	logs.Infof("%s %s started trading %s on %s", e.strategy.BaseStrategy().Name(), e.strategy.BaseStrategy().Version(), e.cfg.Symbol, e.cfg.Timeframe)
	err := queue.Run(ctx, e.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) handle(ctx context.Context, ev bus.Event) error {
	switch ev.Kind {
	case bus.KindCandle:
		return e.onCandle(ctx, ev.Candle)
	case bus.KindOrderExecuted:
		o, ok := e.venue.Order(ev.Order.ID)
		if !ok {
			logs.Warnf("executed order %s is not tracked", ev.Order.ID)
			return nil
		}
		if ev.Order.Price != 0 {
			o.UpdatePrice(ev.Order.Price, ev.Time)
		}
		if !o.Execute(ev.Time) {
			return nil
		}
		e.metrics.SetBalance(e.sim.CurrentBalance)
		return e.liveErr(ctx, e.runner.HandleExecutedOrder(ctx, o))
	case bus.KindOrderCanceled:
		if o, ok := e.venue.Order(ev.Order.ID); ok && o.Cancel(ev.Time) {
			e.metrics.IncOrderCanceled()
			e.journal.Infof(ev.Time, "order %s has been canceled", o.ID)
		}
	case bus.KindOrderUpdated:
		o, ok := e.venue.Order(ev.Order.ID)
		if !ok {
			return nil
		}
		if ev.Order.Price != 0 {
			o.UpdatePrice(ev.Order.Price, ev.Time)
		}
		if ev.Order.Quantity != 0 {
			o.UpdateQuantity(ev.Order.Quantity, ev.Time)
		}
	case bus.KindPosition:
		e.ledger.Sync(ev.PositionQuantity, ev.PositionEntryPrice)
	case bus.KindDisconnected:
		e.journal.Warningf(ev.Time, "venue connection lost, reconnecting")
	default:
		logs.Warnf("unknown event kind %d", uint8(ev.Kind))
	}
	return nil
}

// onCandle executes the strategy when a new bar of the trading timeframe
// opens. Updates of the forming bar only replace it in the store.
func (e *Engine) onCandle(ctx context.Context, c schema.Candle) error {
	latest, ok := e.store.Latest(c.Symbol, c.Timeframe)
	added := !ok || c.Timestamp > latest.Timestamp
	e.store.Upsert(c)
	e.metrics.IncCandle()

	if c.Symbol != e.cfg.Symbol {
		return nil
	}
	e.sim.CurrentTime = c.Timestamp
	if c.Timeframe != e.cfg.Timeframe {
		return nil
	}
	e.sim.CurrentPrice = c.Close
	if !added {
		return nil
	}
	return e.liveErr(ctx, e.runner.Execute(ctx))
}

// liveErr keeps the loop alive on recoverable errors.
func (e *Engine) liveErr(ctx context.Context, err error) error {
	if err == nil || !exception.IsRecoverable(err) {
		return err
	}
	return e.recoverFrom(ctx, err)
}
