package trade

import (
	"math"

	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/state"
)

// Trade is one open to close round trip. Quantity is unsigned.
type Trade struct {
	ID              string           `json:"id"`
	StrategyName    string           `json:"strategyName"`
	StrategyVersion string           `json:"strategyVersion"`
	Symbol          string           `json:"symbol"`
	Type            schema.TradeType `json:"type"`
	EntryPrice      float64          `json:"entryPrice"`
	ExitPrice       float64          `json:"exitPrice"`
	StopLossPrice   float64          `json:"stopLossPrice"`
	TakeProfitPrice float64          `json:"takeProfitPrice"`
	Quantity        float64          `json:"quantity"`
	Fee             float64          `json:"fee"`
	Orders          []order.Order    `json:"orders"`
	OpenedAt        int64            `json:"openedAt"`
	ClosedAt        int64            `json:"closedAt"`
}

// Reward is the targeted profit.
func (t Trade) Reward() float64 {
	return math.Abs(t.TakeProfitPrice-t.EntryPrice) * t.Quantity
}

// Risk is the capital put at risk by the stop loss.
func (t Trade) Risk() float64 {
	return math.Abs(t.StopLossPrice-t.EntryPrice) * t.Quantity
}

// R is the reward to risk ratio.
func (t Trade) R() float64 {
	risk := t.Risk()
	if risk == 0 {
		return 0
	}
	return t.Reward() / risk
}

func (t Trade) Size() float64 {
	return t.Quantity * t.EntryPrice
}

// PNL is the realized profit net of fees.
func (t Trade) PNL() float64 {
	return state.EstimateProfit(t.Quantity, t.EntryPrice, t.ExitPrice, t.Type) - t.Fee
}

func (t Trade) PercentagePNL() float64 {
	size := t.Size()
	if size == 0 {
		return 0
	}
	return t.PNL() / size * 100
}

// HoldingPeriod is the trade duration in seconds.
func (t Trade) HoldingPeriod() float64 {
	return float64(t.ClosedAt-t.OpenedAt) / 1000
}

func (t Trade) IsWin() bool {
	return t.PNL() > 0
}
