package exception

import "github.com/yanun0323/errors"

// Recoverable simulation errors. The engine turns them into a cancel-and-continue action.
var (
	ErrConflictingOrders = errors.New("there are conflicting orders, more than one order could be executed at the passed candle")
	ErrEmptyPosition     = errors.New("the position is already closed")
)

// Fatal errors. They indicate a programming error in the strategy or the recorder.
var (
	ErrInvalidSide             = errors.New(`invalid side, must be either "sell" or "buy"`)
	ErrInvalidSymbol           = errors.New("invalid symbol")
	ErrInvalidTimeframe        = errors.New("invalid timeframe")
	ErrUnsupportedTradeLogType = errors.New("unsupported trade log type")
	ErrConflictingSignals      = errors.New("both buy and sell signals are set")
	ErrInvalidPrice            = errors.New("invalid price")
)

// IsRecoverable reports whether err can be handled by canceling orders and continuing the run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConflictingOrders) || errors.Is(err, ErrEmptyPosition)
}
