package schema

import (
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Timeframe is the width of a candle.
type Timeframe uint8

const (
	_timeframe_beg Timeframe = iota
	Timeframe1m
	Timeframe5m
	Timeframe15m
	Timeframe30m
	Timeframe1h
	Timeframe3h
	Timeframe1d
	_timeframe_end
)

var _timeframeNames = [...]string{
	Timeframe1m:  "1m",
	Timeframe5m:  "5m",
	Timeframe15m: "15m",
	Timeframe30m: "30m",
	Timeframe1h:  "1h",
	Timeframe3h:  "3h",
	Timeframe1d:  "1d",
}

var _timeframeMinutes = [...]int{
	Timeframe1m:  1,
	Timeframe5m:  5,
	Timeframe15m: 15,
	Timeframe30m: 30,
	Timeframe1h:  60,
	Timeframe3h:  60 * 3,
	Timeframe1d:  60 * 24,
}

func (tf Timeframe) IsAvailable() bool {
	return tf > _timeframe_beg && tf < _timeframe_end
}

func (tf Timeframe) String() string {
	if !tf.IsAvailable() {
		return "unknown"
	}
	return _timeframeNames[tf]
}

// CandlesPerBar returns how many 1-minute candles make up one candle of tf.
func (tf Timeframe) CandlesPerBar() (int, error) {
	if !tf.IsAvailable() {
		return 0, errors.Wrapf(exception.ErrInvalidTimeframe, "timeframe %d", uint8(tf))
	}
	return _timeframeMinutes[tf], nil
}

// ParseTimeframe converts names like "5m" or "1h".
func ParseTimeframe(s string) (Timeframe, error) {
	for tf := _timeframe_beg + 1; tf < _timeframe_end; tf++ {
		if _timeframeNames[tf] == s {
			return tf, nil
		}
	}
	return 0, errors.Wrapf(exception.ErrInvalidTimeframe, "parse %q", s)
}

func (tf Timeframe) MarshalText() ([]byte, error) {
	if !tf.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrInvalidTimeframe, "marshal %d", uint8(tf))
	}
	return []byte(_timeframeNames[tf]), nil
}

func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}
