// Package emacross is an EMA 8/21 trend pullback strategy.
//
// It buys a bullish candle that follows a bearish pullback to the slow
// average while the fast average is above the slow one, and mirrors that for
// sells. Entries are stop orders three pips beyond the signal candle, the stop
// loss sits three pips beyond the previous candle and the target is twice the
// risk.
package emacross

import (
	"context"
	"math"

	"backtest/internal/indicator"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/internal/strategy"
)

const (
	Name    = "EMA strategy"
	Version = "0.0.1"

	shortPeriod = 8
	longPeriod  = 21
	pipOffset   = 3
	rewardRatio = 2
)

type Strategy struct {
	*strategy.Base

	// RiskPerCapitalPercent is the share of the balance lost when a stop loss hits.
	RiskPerCapitalPercent float64

	shortEMA float64
	longEMA  float64
	current  schema.Candle
	previous schema.Candle
}

func New() *Strategy {
	return &Strategy{
		Base:                  strategy.NewBase(Name, Version, longPeriod),
		RiskPerCapitalPercent: 1,
	}
}

func (s *Strategy) Update(context.Context) error {
	candles := s.Candles()
	s.shortEMA, _ = indicator.EMA(candles, shortPeriod)
	s.longEMA, _ = indicator.EMA(candles, longPeriod)
	s.current = s.CurrentCandle()
	s.previous = s.PastCandle(1)
	return nil
}

func (s *Strategy) ShouldBuy() bool {
	if s.OpenPositionOrder != nil || s.shortEMA <= s.longEMA {
		return false
	}
	if s.previous.Close > s.longEMA {
		return false
	}
	return s.previous.IsBearish() && s.current.IsBullish()
}

func (s *Strategy) ShouldSell() bool {
	if s.OpenPositionOrder != nil || s.shortEMA >= s.longEMA {
		return false
	}
	if s.previous.Close < s.longEMA {
		return false
	}
	return s.previous.IsBullish() && s.current.IsBearish()
}

func (s *Strategy) ExecuteBuy(ctx context.Context) error {
	pip := s.Pip()
	s.BuyPrice = s.current.High + pipOffset*pip
	s.StopLossPrice = s.previous.Low - pipOffset*pip
	riskPerQty := math.Abs(s.BuyPrice - s.StopLossPrice)
	s.TakeProfitPrice = s.BuyPrice + riskPerQty*rewardRatio

	var err error
	s.OpenPositionOrder, err = s.Trader.StartProfitAt(ctx, schema.SideBuy, s.BuyPrice, s.quantity(riskPerQty, s.BuyPrice))
	return err
}

func (s *Strategy) ExecuteSell(ctx context.Context) error {
	pip := s.Pip()
	s.SellPrice = s.current.Low - pipOffset*pip
	s.StopLossPrice = s.previous.High + pipOffset*pip
	riskPerQty := math.Abs(s.SellPrice - s.StopLossPrice)
	s.TakeProfitPrice = s.SellPrice - riskPerQty*rewardRatio

	var err error
	s.OpenPositionOrder, err = s.Trader.StartProfitAt(ctx, schema.SideSell, s.SellPrice, s.quantity(riskPerQty, s.SellPrice))
	return err
}

// ShouldCancel drops a pending entry once price crosses back over the slow average.
func (s *Strategy) ShouldCancel() bool {
	if s.OpenPositionOrder == nil {
		return false
	}
	price := s.CurrentPrice()
	switch s.OpenPositionOrder.Side {
	case schema.SideBuy:
		return price <= s.longEMA
	case schema.SideSell:
		return price >= s.longEMA
	}
	return false
}

func (s *Strategy) ShouldWait() bool {
	return s.Position().IsOpen()
}

func (s *Strategy) quantity(riskPerQty, price float64) float64 {
	size := risk.RiskToSize(s.CurrentBalance(), s.RiskPerCapitalPercent, riskPerQty, price)
	return risk.SizeToQuantity(size, price)
}
