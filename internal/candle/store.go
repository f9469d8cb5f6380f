package candle

import (
	"sort"
	"sync"

	"backtest/internal/schema"
)

// Store holds candle series bucketed by symbol and timeframe.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]map[schema.Timeframe][]schema.Candle
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{symbols: make(map[string]map[schema.Timeframe][]schema.Candle)}
}

// Upsert replaces the candle with the same timestamp, or adds it in timestamp order.
// Replacing is how forming candles of a live feed get finalized.
func (s *Store) Upsert(c schema.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeframes, ok := s.symbols[c.Symbol]
	if !ok {
		timeframes = make(map[schema.Timeframe][]schema.Candle)
		s.symbols[c.Symbol] = timeframes
	}
	series := timeframes[c.Timeframe]

	n := len(series)
	switch {
	case n == 0 || series[n-1].Timestamp < c.Timestamp:
		series = append(series, c)
	case series[n-1].Timestamp == c.Timestamp:
		series[n-1] = c
	default:
		idx := sort.Search(n, func(i int) bool { return series[i].Timestamp >= c.Timestamp })
		if series[idx].Timestamp == c.Timestamp {
			series[idx] = c
			break
		}
		series = append(series, schema.Candle{})
		copy(series[idx+1:], series[idx:])
		series[idx] = c
	}
	timeframes[c.Timeframe] = series
}

// Get returns the series of a symbol and timeframe, oldest first.
// The returned slice is shared with the store and must not be modified.
func (s *Store) Get(symbol string, tf schema.Timeframe) []schema.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbols[symbol][tf]
}

// Count returns the number of candles in a series.
func (s *Store) Count(symbol string, tf schema.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols[symbol][tf])
}

// Latest returns the most recent candle of a series.
func (s *Store) Latest(symbol string, tf schema.Timeframe) (schema.Candle, bool) {
	return s.NthFromLatest(0, symbol, tf)
}

// NthFromLatest returns the candle n bars before the latest one. n=0 is the latest.
func (s *Store) NthFromLatest(n int, symbol string, tf schema.Timeframe) (schema.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.symbols[symbol][tf]
	idx := len(series) - 1 - n
	if n < 0 || idx < 0 {
		return schema.Candle{}, false
	}
	return series[idx], true
}
