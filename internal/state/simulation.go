package state

import (
	"math"

	"backtest/internal/schema"
)

// Simulation is the numeric state of one run. Every field derives from the
// candle and fill stream, never from the wall clock while backtesting.
type Simulation struct {
	Mode                   schema.Mode `json:"mode"`
	CurrentTime            int64       `json:"currentTime"`
	CurrentPrice           float64     `json:"currentPrice"`
	StartingBalance        float64     `json:"startingBalance"`
	CurrentBalance         float64     `json:"currentBalance"`
	Profit                 float64     `json:"profit"`
	TradingFee             float64     `json:"tradingFee"`
	ConflictingOrdersCount int         `json:"conflictingOrdersCount"`
}

// NewSimulation creates the state of a fresh run.
func NewSimulation(mode schema.Mode, startingBalance, tradingFee float64) *Simulation {
	return &Simulation{
		Mode:            mode,
		StartingBalance: startingBalance,
		CurrentBalance:  startingBalance,
		TradingFee:      tradingFee,
	}
}

// Reset restores the state to the start of a run.
func (s *Simulation) Reset() {
	s.CurrentTime = 0
	s.CurrentPrice = 0
	s.CurrentBalance = s.StartingBalance
	s.Profit = 0
	s.ConflictingOrdersCount = 0
}

// IncreaseBalance credits |amount| minus the trading fee.
func (s *Simulation) IncreaseBalance(amount float64) {
	s.CurrentBalance += math.Abs(amount) * (1 - s.TradingFee)
}

// ReduceBalance debits |amount| plus the trading fee.
func (s *Simulation) ReduceBalance(amount float64) {
	s.CurrentBalance -= math.Abs(amount) * (1 + s.TradingFee)
}

// AddProfit accumulates realized profit. Gains shrink and losses grow by the fee.
func (s *Simulation) AddProfit(profit float64) {
	if profit > 0 {
		s.Profit += profit * (1 - s.TradingFee)
		return
	}
	s.Profit += profit * (1 + s.TradingFee)
}

func (s *Simulation) IncConflictingOrders() {
	s.ConflictingOrdersCount++
}

// ProfitPercent is the realized profit relative to the starting balance, rounded to 2 places.
func (s *Simulation) ProfitPercent() float64 {
	if s.StartingBalance == 0 {
		return 0
	}
	return Round(s.Profit/s.StartingBalance*100, 2)
}

// Round rounds v half away from zero to the given decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
