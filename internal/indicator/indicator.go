// Package indicator computes moving averages and volatility over candle
// closes, oldest first.
package indicator

import (
	"math"

	"backtest/internal/schema"
)

// SMA returns the simple average of the last period closes.
func SMA(candles []schema.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential average for every candle. Values before
// index period-1 are zero; index period-1 holds the SMA seed and later values
// use alpha = 2/(period+1).
func EMASeries(candles []schema.Candle, period int) []float64 {
	result := make([]float64, len(candles))
	if period <= 0 || len(candles) < period {
		return result
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += candles[i].Close
	}
	result[period-1] = seed / float64(period)

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		result[i] = candles[i].Close*alpha + result[i-1]*(1-alpha)
	}
	return result
}

// EMA returns the latest exponential average.
func EMA(candles []schema.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	series := EMASeries(candles, period)
	return series[len(series)-1], true
}

// ATR returns the latest average true range with Wilder smoothing. It needs
// period+1 candles.
func ATR(candles []schema.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	trueRange := func(i int) float64 {
		prevClose := candles[i-1].Close
		return math.Max(candles[i].High-candles[i].Low,
			math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += trueRange(i)
	}
	atr /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
	}
	return atr, true
}
