package candle

import (
	"math"

	"backtest/internal/schema"
)

// Stats summarizes the candles a run is replayed against.
type Stats struct {
	Total              int
	Symbol             string
	Timeframe          schema.Timeframe
	From               int64
	To                 int64
	FirstClose         float64
	LastClose          float64
	PriceChangePercent float64
}

// Summarize computes Stats for a series, oldest first.
func Summarize(candles []schema.Candle) Stats {
	if len(candles) == 0 {
		return Stats{}
	}
	first, last := candles[0], candles[len(candles)-1]
	stats := Stats{
		Total:      len(candles),
		Symbol:     first.Symbol,
		Timeframe:  first.Timeframe,
		From:       first.Timestamp,
		To:         last.Timestamp,
		FirstClose: first.Close,
		LastClose:  last.Close,
	}
	if first.Close != 0 {
		stats.PriceChangePercent = round((last.Close-first.Close)/first.Close*100, 2)
	}
	return stats
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
