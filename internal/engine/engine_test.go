package engine

import (
	"context"
	"testing"

	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	symbol = "ETHUSD"
	t0     = int64(1547200500000)
)

func ts(i int) int64 {
	return t0 + int64(i)*60_000
}

// scripted runs the step registered for the current time, if any.
type scripted struct {
	*strategy.Base
	steps map[int64]func(ctx context.Context, b *strategy.Base) error
}

func newScripted(min int) *scripted {
	return &scripted{
		Base:  strategy.NewBase("Scripted", "1.0.0", min),
		steps: map[int64]func(context.Context, *strategy.Base) error{},
	}
}

func (s *scripted) Check(ctx context.Context) error {
	step, ok := s.steps[s.CurrentTime()]
	if !ok {
		return nil
	}
	return step(ctx, s.Base)
}

func bar(i int, open, close, high, low float64) schema.Candle {
	return schema.Candle{
		Symbol:    symbol,
		Timeframe: schema.Timeframe1m,
		Timestamp: ts(i),
		Open:      open,
		Close:     close,
		High:      high,
		Low:       low,
		Volume:    1,
	}
}

// scenario holds 25 one-minute candles: a long stopped out at 128.35 and a
// short taking profit at 126.58.
func scenario() []schema.Candle {
	var out []schema.Candle
	for i := 0; i <= 4; i++ {
		out = append(out, bar(i, 130, 130, 130.2, 129.8))
	}
	out = append(out, bar(5, 129.5, 129.5, 129.9, 129.2))
	for i := 6; i <= 9; i++ {
		out = append(out, bar(i, 129.6, 129.6, 129.8, 129.4))
	}
	out = append(out, bar(10, 128.6, 128.6, 129.0, 128.2))
	for i := 11; i <= 14; i++ {
		out = append(out, bar(i, 128.3, 128.3, 128.5, 128.1))
	}
	out = append(out, bar(15, 128.1, 128.1, 128.3, 127.9))
	for i := 16; i <= 17; i++ {
		out = append(out, bar(i, 127.5, 127.5, 128.0, 127.0))
	}
	out = append(out, bar(18, 127, 127, 127.2, 126.5))
	for i := 19; i <= 24; i++ {
		out = append(out, bar(i, 127, 127, 127.2, 126.8))
	}
	return out
}

func scenarioStrategy() *scripted {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		b.StopLossPrice = 128.35
		b.TakeProfitPrice = 131.29
		var err error
		b.OpenPositionOrder, err = b.Trader.BuyAt(ctx, 10.2041, 129.33)
		return err
	}
	s.steps[ts(14)] = func(ctx context.Context, b *strategy.Base) error {
		b.StopLossPrice = 129.52
		b.TakeProfitPrice = 126.58
		var err error
		b.OpenPositionOrder, err = b.Trader.SellAt(ctx, 10, 128.05)
		return err
	}
	return s
}

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.AddSymbol(symbol, 0.01))
	return reg
}

func scenarioConfig(mode schema.Mode) Config {
	return Config{
		Mode:            mode,
		Symbol:          symbol,
		Timeframe:       schema.Timeframe5m,
		StartingBalance: 10000,
	}
}

func TestConfig(t *testing.T) {
	cfg := Config{Symbol: symbol, Timeframe: schema.Timeframe15m, Timeframes: []schema.Timeframe{schema.Timeframe5m, schema.Timeframe1m}, StartingBalance: 1}.withDefaults()
	assert.Equal(t, schema.ModeBacktest, cfg.Mode)
	assert.Equal(t, []schema.Timeframe{schema.Timeframe1m, schema.Timeframe5m, schema.Timeframe15m}, cfg.Timeframes)
	require.NoError(t, cfg.Validate())

	invalid := []Config{
		{Symbol: symbol, Timeframe: schema.Timeframe1m, StartingBalance: 0},
		{Timeframe: schema.Timeframe1m, StartingBalance: 1},
		{Symbol: symbol, StartingBalance: 1},
		{Symbol: symbol, Timeframe: schema.Timeframe1m, StartingBalance: 1, TradingFee: 1},
		{Mode: "paper", Symbol: symbol, Timeframe: schema.Timeframe1m, StartingBalance: 1},
	}
	for _, c := range invalid {
		assert.Error(t, c.withDefaults().Validate(), "%+v", c)
	}

	_, err := New(Config{Symbol: "BTCUSD", Timeframe: schema.Timeframe1m, StartingBalance: 1}, newRegistry(t), newScripted(0), nil)
	assert.Error(t, err)
}

func TestRunBacktestScenario(t *testing.T) {
	metrics := obs.NewMetrics()
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), scenarioStrategy(), metrics)
	require.NoError(t, err)
	e.Journal().Quiet = true

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, e.Phase())

	assert.Len(t, result.Orders, 6)
	require.Len(t, result.Trades, 2)

	long, short := result.Trades[0], result.Trades[1]
	assert.Equal(t, schema.TradeTypeLong, long.Type)
	assert.InDelta(t, -10.0, long.PNL(), 0.001)
	assert.InDelta(t, 2.0, long.R(), 1e-9)
	assert.Equal(t, ts(5), long.OpenedAt)
	assert.Equal(t, ts(10), long.ClosedAt)

	assert.Equal(t, schema.TradeTypeShort, short.Type)
	assert.InDelta(t, 14.7, short.PNL(), 1e-9)
	assert.InDelta(t, 1.0, short.R(), 1e-9)
	assert.Equal(t, ts(15), short.OpenedAt)
	assert.Equal(t, ts(18), short.ClosedAt)

	assert.InDelta(t, 10004.70, result.Simulation.CurrentBalance, 0.001)
	assert.Equal(t, 2, result.Stats.Total)
	assert.Equal(t, 50.0, result.Stats.WinRate)
	assert.Equal(t, 1.5, result.Stats.AverageR)
	assert.Equal(t, 1.0, result.Stats.MinR)
	assert.Equal(t, 2.0, result.Stats.MaxR)
	assert.Equal(t, 50.0, result.Stats.LongsPercent)
	assert.Equal(t, 25, result.Candles.Total)
	assert.Zero(t, result.Simulation.ConflictingOrdersCount)

	for _, o := range result.Orders {
		assert.False(t, o.IsActive(), "order %s left active", o.ID)
	}

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(25), snap.Candles)
	assert.Equal(t, uint64(5), snap.Executions)
	assert.Equal(t, uint64(6), snap.OrdersSubmitted)
	assert.Equal(t, uint64(4), snap.OrdersExecuted)
	assert.InDelta(t, 10004.70, snap.Balance, 0.001)

	_, err = e.RunBacktest(context.Background(), scenario())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestFitness(t *testing.T) {
	e, err := New(scenarioConfig(schema.ModeFitness), newRegistry(t), scenarioStrategy(), nil)
	require.NoError(t, err)
	assert.True(t, e.Journal().Quiet)

	score, err := e.Fitness(context.Background(), scenario())
	require.NoError(t, err)
	assert.Equal(t, 0.05, score)
}

func TestRunBacktestWarmUp(t *testing.T) {
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), newScripted(3), nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	_, err = e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)
	assert.Equal(t, 2, e.Journal().Count(obs.LevelWarning))
}

func TestRunBacktestSynthesizesTimeframes(t *testing.T) {
	cfg := Config{
		Symbol:          symbol,
		Timeframe:       schema.Timeframe1m,
		Timeframes:      []schema.Timeframe{schema.Timeframe5m, schema.Timeframe15m},
		StartingBalance: 10000,
	}
	e, err := New(cfg, newRegistry(t), newScripted(0), nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	candles := scenario()
	_, err = e.RunBacktest(context.Background(), candles)
	require.NoError(t, err)

	assert.Equal(t, 25, e.Store().Count(symbol, schema.Timeframe1m))

	fives := e.Store().Get(symbol, schema.Timeframe5m)
	require.Len(t, fives, 5)
	assert.Equal(t, schema.Candle{
		Symbol:    symbol,
		Timeframe: schema.Timeframe5m,
		Timestamp: ts(10),
		Open:      128.6,
		Close:     128.3,
		High:      129.0,
		Low:       128.1,
		Volume:    5,
	}, fives[2])

	fifteens := e.Store().Get(symbol, schema.Timeframe15m)
	require.Len(t, fifteens, 1)
	assert.Equal(t, ts(0), fifteens[0].Timestamp)
	assert.Equal(t, 15.0, fifteens[0].Volume)
	assert.Equal(t, 128.3, fifteens[0].Close)
}

func TestRunBacktestConflictingOrders(t *testing.T) {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		if _, err := b.Trader.BuyAt(ctx, 1, 129.5); err != nil {
			return err
		}
		_, err := b.Trader.BuyAt(ctx, 1, 129.6)
		return err
	}
	metrics := obs.NewMetrics()
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), s, metrics)
	require.NoError(t, err)
	e.Journal().Quiet = true

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Simulation.ConflictingOrdersCount)
	assert.Equal(t, uint64(1), metrics.Snapshot().Conflicts)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 10000.0, result.Simulation.CurrentBalance)
	for _, o := range result.Orders {
		assert.True(t, o.IsCanceled())
	}
	assert.Equal(t, 1, e.Journal().Count(obs.LevelWarning))
	assert.Equal(t, 1, e.Journal().Count(obs.LevelError))
}

func TestRunBacktestForceClosesAtLastPrice(t *testing.T) {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		b.StopLossPrice = 100
		b.TakeProfitPrice = 200
		var err error
		b.OpenPositionOrder, err = b.Trader.BuyAtMarket(ctx, 1)
		return err
	}
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), s, nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)
	assert.InDelta(t, -3.0, result.Simulation.Profit, 1e-9)
	assert.InDelta(t, 9997.0, result.Simulation.CurrentBalance, 1e-9)
}

func TestRunBacktestStopsOnFatalError(t *testing.T) {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		_, err := b.Trader.StopLossAt(ctx, schema.Side("long"), 1, 1)
		return err
	}
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), s, nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	_, err = e.RunBacktest(context.Background(), scenario())
	assert.Error(t, err)

	_, err = e.RunBacktest(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunBacktestCanceled(t *testing.T) {
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), newScripted(0), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RunBacktest(ctx, scenario())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBacktestRatchetsTrailingStop(t *testing.T) {
	candles := []schema.Candle{
		bar(0, 100, 100, 100.1, 99.9),
		bar(1, 102, 102, 102.2, 101.8),
		bar(2, 90, 90, 90.5, 89.5),
		bar(3, 101, 101, 101.2, 100.8),
	}
	var trailing *order.Order
	s := newScripted(0)
	s.steps[ts(0)] = func(ctx context.Context, b *strategy.Base) error {
		var err error
		trailing, err = b.Trader.TrailingStopOrder(ctx, schema.SideSell, 1, 1)
		return err
	}
	cfg := Config{Symbol: symbol, Timeframe: schema.Timeframe1m, StartingBalance: 10000}
	e, err := New(cfg, newRegistry(t), s, nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	_, err = e.RunBacktest(context.Background(), candles)
	require.NoError(t, err)
	require.NotNil(t, trailing)

	// tightened to 101 on the rally, kept there through the gap down
	assert.Equal(t, 101.0, trailing.Price)
	assert.Equal(t, ts(1), trailing.UpdatedAt)
	assert.True(t, trailing.IsExecuted())
	assert.Equal(t, ts(3), trailing.ExecutedAt)
}

func TestRunBacktestRecoversFromEmptyPosition(t *testing.T) {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		var err error
		b.StopLossOrder, err = b.Trader.StopLossAt(ctx, schema.SideSell, 129.5, 1)
		return err
	}
	metrics := obs.NewMetrics()
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), s, metrics)
	require.NoError(t, err)
	e.Journal().Quiet = true

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)

	assert.Equal(t, 1, e.Journal().Count(obs.LevelWarning))
	assert.Nil(t, s.StopLossOrder)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 10000.0, result.Simulation.CurrentBalance)
	assert.Equal(t, uint64(1), metrics.Snapshot().OrdersExecuted)
	assert.Equal(t, uint64(5), metrics.Snapshot().Executions)
}

func TestRunBacktestBracketFillsOnEntryCandle(t *testing.T) {
	s := newScripted(0)
	s.steps[ts(4)] = func(ctx context.Context, b *strategy.Base) error {
		b.StopLossPrice = 129.3
		b.TakeProfitPrice = 131
		var err error
		b.OpenPositionOrder, err = b.Trader.BuyAt(ctx, 1, 129.5)
		return err
	}
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), s, nil)
	require.NoError(t, err)
	e.Journal().Quiet = true

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	tr := result.Trades[0]
	assert.Equal(t, ts(5), tr.OpenedAt)
	assert.Equal(t, ts(5), tr.ClosedAt)
	assert.Equal(t, 129.3, tr.ExitPrice)
	assert.InDelta(t, -0.2, tr.PNL(), 1e-9)
	assert.InDelta(t, 9999.8, result.Simulation.CurrentBalance, 1e-9)

	require.Len(t, result.Orders, 3)
	assert.True(t, result.Orders[1].IsExecuted(), "stop loss")
	assert.True(t, result.Orders[2].IsCanceled(), "take profit")
}

func TestRunBacktestResetsSimulation(t *testing.T) {
	e, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), newScripted(0), nil)
	require.NoError(t, err)
	e.Journal().Quiet = true
	e.Simulation().CurrentBalance = 1
	e.Simulation().Profit = 5
	e.Simulation().ConflictingOrdersCount = 3

	result, err := e.RunBacktest(context.Background(), scenario())
	require.NoError(t, err)
	assert.Equal(t, 10000.0, result.Simulation.CurrentBalance)
	assert.Zero(t, result.Simulation.Profit)
	assert.Zero(t, result.Simulation.ConflictingOrdersCount)
	assert.Equal(t, ts(24), result.Simulation.CurrentTime)

	fresh, err := New(scenarioConfig(schema.ModeBacktest), newRegistry(t), newScripted(0), nil)
	require.NoError(t, err)
	assert.Error(t, fresh.Restore(fresh.Snapshot()))
}
