/*
Engine replays candles through a strategy and keeps the run's state.

# Module
  - candle store: 1-minute candles as they arrive, plus every tracked timeframe synthesized from them
  - matcher: fills active orders whose price the current candle touches, and ratchets trailing stops
  - strategy runner: executes the strategy once per bar of the trading timeframe
  - position ledger: balance, profit and the open position of the traded symbol

# Source
 1. 1-minute candles from a CSV file or the candle repository (backtest, fitness)
 2. venue events from the live exchange queue (livetrade)

# Produce
  - Result: orders, trades, action log and statistics of a finished backtest
  - fitness score: profit as a percentage of the starting balance

# Sharded
  - one engine per strategy + trading symbol; runs never share state
*/
package engine
