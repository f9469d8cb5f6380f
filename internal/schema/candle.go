package schema

// Candle is one OHLCV sample. Timestamp is unix milliseconds of the bar open.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp int64     `json:"timestamp"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
}

func (c Candle) IsBullish() bool {
	return c.Close >= c.Open
}

func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Includes reports whether price traded inside the candle range, bounds included.
func (c Candle) Includes(price float64) bool {
	return price >= c.Low && price <= c.High
}
