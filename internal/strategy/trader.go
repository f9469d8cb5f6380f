package strategy

import (
	"context"
	"math"
	"time"

	"backtest/internal/exchange"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Trader submits orders on the trading symbol on behalf of a strategy. Every
// submission passes the risk pre-check first.
type Trader struct {
	ex      exchange.Exchange
	env     *Env
	risk    *risk.Engine
	metrics *obs.Metrics

	executed []*order.Order
}

// NewTrader creates a trader. A nil risk engine allows everything.
func NewTrader(ex exchange.Exchange, env *Env, riskEngine *risk.Engine, metrics *obs.Metrics) *Trader {
	if riskEngine == nil {
		riskEngine = risk.NewEngine(risk.Config{})
	}
	return &Trader{ex: ex, env: env, risk: riskEngine, metrics: metrics}
}

// BuyAt places a buy LIMIT order.
func (t *Trader) BuyAt(ctx context.Context, quantity, price float64) (*order.Order, error) {
	return t.limit(ctx, quantity, price, schema.SideBuy, schema.OrderFlagNone)
}

// SellAt places a sell LIMIT order.
func (t *Trader) SellAt(ctx context.Context, quantity, price float64) (*order.Order, error) {
	return t.limit(ctx, quantity, price, schema.SideSell, schema.OrderFlagNone)
}

// BuyAtMarket places a buy MARKET order.
func (t *Trader) BuyAtMarket(ctx context.Context, quantity float64) (*order.Order, error) {
	return t.market(ctx, quantity, schema.SideBuy)
}

// SellAtMarket places a sell MARKET order.
func (t *Trader) SellAtMarket(ctx context.Context, quantity float64) (*order.Order, error) {
	return t.market(ctx, quantity, schema.SideSell)
}

// ReducePositionAt places a reduce-only LIMIT order.
func (t *Trader) ReducePositionAt(ctx context.Context, quantity, price float64, side schema.Side) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	return t.limit(ctx, quantity, price, side, schema.OrderFlagReduceOnly)
}

// StartProfitAt places a STOP order that opens a position once price breaks
// through: above the current price for buys, below it for sells.
func (t *Trader) StartProfitAt(ctx context.Context, side schema.Side, price, quantity float64) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	current := t.env.Sim.CurrentPrice
	if side == schema.SideBuy && price < current {
		return nil, errors.Wrapf(exception.ErrInvalidPrice, "buy start profit price %v is below the current price %v", price, current)
	}
	if side == schema.SideSell && price > current {
		return nil, errors.Wrapf(exception.ErrInvalidPrice, "sell start profit price %v is above the current price %v", price, current)
	}
	return t.stop(ctx, quantity, price, side, schema.OrderFlagNone)
}

// StopLossAt places a STOP order.
func (t *Trader) StopLossAt(ctx context.Context, side schema.Side, price, quantity float64) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	return t.stop(ctx, quantity, price, side, schema.OrderFlagNone)
}

// TrailingStopOrder places a reduce-only TRAILING STOP order.
func (t *Trader) TrailingStopOrder(ctx context.Context, side schema.Side, trailingDistance, quantity float64) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	if err := t.check(side, quantity, t.env.Sim.CurrentPrice, schema.OrderFlagReduceOnly); err != nil {
		return nil, err
	}
	return t.observe(func() (*order.Order, error) {
		return t.ex.TrailingStopOrder(ctx, t.env.Symbol, math.Abs(quantity), trailingDistance, side, schema.OrderFlagReduceOnly)
	})
}

// CloseAtStopLossAt places a STOP order flagged to close the position.
func (t *Trader) CloseAtStopLossAt(ctx context.Context, side schema.Side, price, quantity float64) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	return t.stop(ctx, quantity, price, side, schema.OrderFlagClose)
}

func (t *Trader) CancelAllOrders(ctx context.Context) error {
	msg, err := t.ex.CancelAllOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "cancel all orders")
	}
	t.env.Journal.Infof(t.env.Sim.CurrentTime, "%s", msg)
	return nil
}

func (t *Trader) CancelOrder(ctx context.Context, id string) error {
	msg, err := t.ex.CancelOrder(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "cancel order %s", id)
	}
	t.env.Journal.Infof(t.env.Sim.CurrentTime, "%s", msg)
	return nil
}

// TakeExecuted drains the market orders filled inline while backtesting.
func (t *Trader) TakeExecuted() []*order.Order {
	out := t.executed
	t.executed = nil
	return out
}

func (t *Trader) limit(ctx context.Context, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	if err := t.check(side, quantity, price, flag); err != nil {
		return nil, err
	}
	return t.observe(func() (*order.Order, error) {
		return t.ex.LimitOrder(ctx, t.env.Symbol, math.Abs(quantity), price, side, flag)
	})
}

func (t *Trader) stop(ctx context.Context, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	if err := t.check(side, quantity, price, flag); err != nil {
		return nil, err
	}
	return t.observe(func() (*order.Order, error) {
		return t.ex.StopOrder(ctx, t.env.Symbol, math.Abs(quantity), price, side, flag)
	})
}

func (t *Trader) market(ctx context.Context, quantity float64, side schema.Side) (*order.Order, error) {
	if err := t.check(side, quantity, t.env.Sim.CurrentPrice, schema.OrderFlagNone); err != nil {
		return nil, err
	}
	o, err := t.observe(func() (*order.Order, error) {
		return t.ex.MarketOrder(ctx, t.env.Symbol, math.Abs(quantity), side, schema.OrderFlagNone)
	})
	if err != nil {
		return nil, err
	}
	if !t.env.Mode.IsLive() {
		t.executed = append(t.executed, o)
	}
	return o, nil
}

func (t *Trader) check(side schema.Side, quantity, price float64, flag schema.OrderFlag) error {
	decision := t.risk.Evaluate(risk.Intent{
		Symbol:    t.env.Symbol,
		Side:      side,
		Quantity:  order.SignedQuantity(quantity, side),
		Price:     price,
		Flag:      flag,
		Timestamp: t.env.Sim.CurrentTime,
	}, risk.StateView{Position: t.position()})
	if decision.Allowed {
		return nil
	}
	t.metrics.IncRiskDenied()
	return errors.Wrapf(exception.ErrOrderRejected, "%s %v @ %v: %s", side, quantity, price, decision.Reason)
}

func (t *Trader) position() float64 {
	if t.env.Ledger == nil {
		return 0
	}
	return t.env.Ledger.Position().Quantity
}

func (t *Trader) observe(submit func() (*order.Order, error)) (*order.Order, error) {
	start := time.Now()
	o, err := submit()
	if err != nil {
		return nil, err
	}
	t.metrics.ObserveSubmission(time.Since(start))
	t.env.Journal.Infof(t.env.Sim.CurrentTime, "submitted a %s %s order for %v @ %v", o.Side, o.Type, math.Abs(o.Quantity), o.Price)
	return o, nil
}
