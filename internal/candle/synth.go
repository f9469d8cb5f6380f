package candle

import (
	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Synthesize builds one candle of timeframe tf from consecutive 1-minute candles, oldest first.
func Synthesize(tf schema.Timeframe, window []schema.Candle) (schema.Candle, error) {
	if !tf.IsAvailable() {
		return schema.Candle{}, errors.Wrapf(exception.ErrInvalidTimeframe, "synthesize %d", uint8(tf))
	}
	if len(window) == 0 {
		return schema.Candle{}, errors.Wrap(exception.ErrInvalidArgument, "synthesize from empty window")
	}

	first := window[0]
	out := schema.Candle{
		Symbol:    first.Symbol,
		Timeframe: tf,
		Timestamp: first.Timestamp,
		Open:      first.Open,
		Close:     window[len(window)-1].Close,
		High:      first.High,
		Low:       first.Low,
	}
	for _, c := range window {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
	}
	return out, nil
}

// TrailingWindow returns the n candles ending at index i, or false if there are fewer than n.
func TrailingWindow(candles []schema.Candle, i, n int) ([]schema.Candle, bool) {
	if n <= 0 || i < n-1 || i >= len(candles) {
		return nil, false
	}
	return candles[i-n+1 : i+1], true
}
