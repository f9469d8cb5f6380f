// Package strategy defines the hooks a trading policy implements and the
// runner that drives them once per candle.
//
// A concrete strategy embeds *Base, which supplies the default for every hook,
// and overrides the handful it needs. Implementing Checker replaces the
// default decision pipeline.
package strategy

import (
	"context"

	"backtest/internal/candle"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/state"
)

// Strategy is the contract the runner drives.
type Strategy interface {
	BaseStrategy() *Base

	Update(ctx context.Context) error

	ShouldCancel() bool
	ShouldWait() bool
	ShouldBuy() bool
	ShouldSell() bool
	ShouldIncreasePositionSize() bool
	ShouldReducePositionSize() bool
	ShouldAcceptLossEarly() bool
	ShouldTakeProfitEarly() bool

	ExecuteBuy(ctx context.Context) error
	ExecuteSell(ctx context.Context) error
	ExecuteIncreasePositionSize(ctx context.Context) error
	ExecuteReducePositionSize(ctx context.Context) error
	ExecuteAcceptLossEarly(ctx context.Context) error
	ExecuteTakeProfitEarly(ctx context.Context) error
	ExecuteCancel(ctx context.Context) error

	OnOpenPosition(ctx context.Context) error
	OnStopLoss(ctx context.Context) error
	OnTakeProfit(ctx context.Context) error
	OnIncreasedPosition(ctx context.Context) error
	OnReducedPosition(ctx context.Context) error
}

// Checker replaces the default decision pipeline.
type Checker interface {
	Check(ctx context.Context) error
}

// Env is the read-only view of a run a strategy works against.
type Env struct {
	Mode      schema.Mode
	Symbol    string
	Timeframe schema.Timeframe
	Store     *candle.Store
	Sim       *state.Simulation
	Ledger    *state.Ledger
	Registry  *schema.Registry
	Journal   *obs.Journal
}

// Base holds the state every strategy shares and the default hooks.
type Base struct {
	name           string
	version        string
	minimumCandles int

	env    *Env
	Trader *Trader

	OpenPositionOrder     *order.Order
	StopLossOrder         *order.Order
	TakeProfitOrder       *order.Order
	IncreasePositionOrder *order.Order
	ReducePositionOrder   *order.Order

	BuyPrice            float64
	SellPrice           float64
	StopLossPrice       float64
	TakeProfitPrice     float64
	ReducePositionPrice float64
}

// NewBase creates the shared part of a strategy. minimumCandles is the
// warm-up on the trading timeframe.
func NewBase(name, version string, minimumCandles int) *Base {
	return &Base{name: name, version: version, minimumCandles: minimumCandles}
}

func (b *Base) BaseStrategy() *Base { return b }

func (b *Base) Name() string        { return b.name }
func (b *Base) Version() string     { return b.version }
func (b *Base) MinimumCandles() int { return b.minimumCandles }

// Candles returns the trading candles, oldest first. The slice is shared.
func (b *Base) Candles() []schema.Candle {
	return b.env.Store.Get(b.env.Symbol, b.env.Timeframe)
}

// CurrentCandle returns the latest trading candle.
func (b *Base) CurrentCandle() schema.Candle {
	c, _ := b.env.Store.Latest(b.env.Symbol, b.env.Timeframe)
	return c
}

// PastCandle returns the trading candle n bars before the latest.
func (b *Base) PastCandle(n int) schema.Candle {
	c, _ := b.env.Store.NthFromLatest(n, b.env.Symbol, b.env.Timeframe)
	return c
}

func (b *Base) Position() state.Position {
	return b.env.Ledger.Position()
}

func (b *Base) CurrentPrice() float64 {
	return b.env.Sim.CurrentPrice
}

func (b *Base) CurrentTime() int64 {
	return b.env.Sim.CurrentTime
}

func (b *Base) CurrentBalance() float64 {
	return b.env.Sim.CurrentBalance
}

func (b *Base) Symbol() string {
	return b.env.Symbol
}

// Pip returns the pip of the traded symbol.
func (b *Base) Pip() float64 {
	return b.env.Registry.Pip(b.env.Symbol)
}

func (b *Base) Mode() schema.Mode {
	return b.env.Mode
}

func (b *Base) Journal() *obs.Journal {
	return b.env.Journal
}

func (b *Base) Update(context.Context) error { return nil }

func (b *Base) ShouldCancel() bool               { return false }
func (b *Base) ShouldWait() bool                 { return false }
func (b *Base) ShouldBuy() bool                  { return false }
func (b *Base) ShouldSell() bool                 { return false }
func (b *Base) ShouldIncreasePositionSize() bool { return false }
func (b *Base) ShouldReducePositionSize() bool   { return false }
func (b *Base) ShouldAcceptLossEarly() bool      { return false }
func (b *Base) ShouldTakeProfitEarly() bool      { return false }

func (b *Base) ExecuteBuy(context.Context) error                  { return nil }
func (b *Base) ExecuteSell(context.Context) error                 { return nil }
func (b *Base) ExecuteIncreasePositionSize(context.Context) error { return nil }
func (b *Base) ExecuteReducePositionSize(context.Context) error   { return nil }
func (b *Base) ExecuteAcceptLossEarly(context.Context) error      { return nil }
func (b *Base) ExecuteTakeProfitEarly(context.Context) error      { return nil }

// ExecuteCancel cancels every order and forgets the tracked ones.
func (b *Base) ExecuteCancel(ctx context.Context) error {
	return b.Reset(ctx)
}

// OnOpenPosition protects the new position with a stop loss and a take
// profit on the opposite side, sized to the filled quantity.
func (b *Base) OnOpenPosition(ctx context.Context) error {
	if b.OpenPositionOrder == nil {
		return nil
	}
	entry := b.OpenPositionOrder
	qty := entry.Quantity
	if qty < 0 {
		qty = -qty
	}

	var err error
	if entry.Side == schema.SideBuy {
		if b.StopLossOrder, err = b.Trader.StopLossAt(ctx, schema.SideSell, b.StopLossPrice, qty); err != nil {
			return err
		}
		if b.TakeProfitOrder, err = b.Trader.SellAt(ctx, qty, b.TakeProfitPrice); err != nil {
			return err
		}
	} else {
		if b.StopLossOrder, err = b.Trader.StopLossAt(ctx, schema.SideBuy, b.StopLossPrice, qty); err != nil {
			return err
		}
		if b.TakeProfitOrder, err = b.Trader.BuyAt(ctx, qty, b.TakeProfitPrice); err != nil {
			return err
		}
	}

	b.OpenPositionOrder = nil
	return nil
}

func (b *Base) OnStopLoss(ctx context.Context) error {
	b.env.Journal.Infof(b.CurrentTime(), "stop loss has been executed, looking for the next trade")
	return b.Reset(ctx)
}

func (b *Base) OnTakeProfit(ctx context.Context) error {
	b.env.Journal.Infof(b.CurrentTime(), "take profit has been executed, looking for the next trade")
	return b.Reset(ctx)
}

func (b *Base) OnIncreasedPosition(context.Context) error { return nil }
func (b *Base) OnReducedPosition(context.Context) error   { return nil }

// Reset cancels every order and clears the tracked order references.
func (b *Base) Reset(ctx context.Context) error {
	if err := b.Trader.CancelAllOrders(ctx); err != nil {
		return err
	}
	b.OpenPositionOrder = nil
	b.StopLossOrder = nil
	b.TakeProfitOrder = nil
	b.IncreasePositionOrder = nil
	b.ReducePositionOrder = nil
	return nil
}
