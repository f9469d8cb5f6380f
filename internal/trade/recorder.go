package trade

import (
	"math"

	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// LogType is the effect a filled order has on the working trade.
type LogType uint8

const (
	_logType_beg LogType = iota
	LogOpen
	LogIncrease
	LogReduce
	LogClose
	_logType_end
)

func (l LogType) IsAvailable() bool {
	return l > _logType_beg && l < _logType_end
}

func (l LogType) String() string {
	switch l {
	case LogOpen:
		return "open"
	case LogIncrease:
		return "increase"
	case LogReduce:
		return "reduce"
	case LogClose:
		return "close"
	default:
		return "unknown"
	}
}

// Levels carries the protective prices the strategy had set when the fill happened.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
}

// Recorder folds fills into the working trade and keeps the completed ones.
type Recorder struct {
	strategyName    string
	strategyVersion string
	tradingFee      float64

	current *Trade
	trades  []Trade
}

// NewRecorder creates a recorder for one strategy.
func NewRecorder(strategyName, strategyVersion string, tradingFee float64) *Recorder {
	return &Recorder{
		strategyName:    strategyName,
		strategyVersion: strategyVersion,
		tradingFee:      tradingFee,
	}
}

// Record applies a filled order at now (unix ms).
func (r *Recorder) Record(o order.Order, logType LogType, levels Levels, now int64) error {
	if logType == LogOpen {
		r.current = &Trade{
			ID:              o.ID,
			StrategyName:    r.strategyName,
			StrategyVersion: r.strategyVersion,
			Symbol:          o.Symbol,
			Type:            tradeType(o.Side),
			EntryPrice:      o.Price,
			StopLossPrice:   levels.StopLoss,
			Quantity:        math.Abs(o.Quantity),
			Orders:          []order.Order{o},
			OpenedAt:        now,
		}
		return nil
	}

	if !logType.IsAvailable() {
		return errors.Wrapf(exception.ErrUnsupportedTradeLogType, "log type %d", logType)
	}
	if r.current == nil {
		return errors.Wrapf(exception.ErrEmptyPosition, "%s trade", logType)
	}

	t := r.current
	t.Orders = append(t.Orders, o)
	switch logType {
	case LogIncrease:
		t.EntryPrice = state.EstimateAveragePrice(o.Quantity, o.Price, t.Quantity, t.EntryPrice)
		t.Quantity += math.Abs(o.Quantity)
	case LogReduce:
		t.ExitPrice = state.EstimateAveragePrice(o.Quantity, o.Price, t.Quantity, t.EntryPrice)
	case LogClose:
		if t.ExitPrice == 0 {
			t.ExitPrice = o.Price
		} else {
			t.ExitPrice = state.EstimateAveragePrice(o.Quantity, o.Price, t.Quantity, t.EntryPrice)
		}
		t.ClosedAt = now
		t.Quantity = entryQuantity(t)
		t.Fee = r.tradingFee * t.Quantity * (t.EntryPrice + t.ExitPrice)
		t.TakeProfitPrice = levels.TakeProfit

		r.trades = append(r.trades, *t)
		r.current = nil
	}
	return nil
}

// Current returns a copy of the working trade.
func (r *Recorder) Current() (Trade, bool) {
	if r.current == nil {
		return Trade{}, false
	}
	return *r.current, true
}

// Trades returns the completed trades in closing order.
func (r *Recorder) Trades() []Trade {
	out := make([]Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func tradeType(side schema.Side) schema.TradeType {
	if side == schema.SideBuy {
		return schema.TradeTypeLong
	}
	return schema.TradeTypeShort
}

func entryQuantity(t *Trade) float64 {
	side := t.Type.Side()
	var qty float64
	for _, o := range t.Orders {
		if o.Side == side {
			qty += math.Abs(o.Quantity)
		}
	}
	return qty
}
