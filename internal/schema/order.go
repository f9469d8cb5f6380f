package schema

import (
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Side describes order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Validate fails with ErrInvalidSide for anything but buy or sell.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return errors.Wrapf(exception.ErrInvalidSide, "side %q", string(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType describes how an order is triggered.
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeTrailingStop OrderType = "TRAILING STOP"
)

// OrderFlag is an execution instruction attached to an order.
type OrderFlag string

const (
	OrderFlagNone       OrderFlag = ""
	OrderFlagReduceOnly OrderFlag = "ReduceOnly"
	OrderFlagClose      OrderFlag = "Close"
)

// OrderStatus is the lifecycle status of an order.
// Venue statuses may carry a suffix, e.g. "EXECUTED @ 128.35(-10.2)".
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "ACTIVE"
	OrderStatusExecuted        OrderStatus = "EXECUTED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY FILLED"
)

// TradeType is the direction of a position or a completed trade.
type TradeType string

const (
	TradeTypeLong  TradeType = "long"
	TradeTypeShort TradeType = "short"
	TradeTypeFlat  TradeType = "flat"
)

// Side returns the entry side of a trade type.
func (t TradeType) Side() Side {
	if t == TradeTypeShort {
		return SideSell
	}
	return SideBuy
}

// Mode is the trading mode of a run.
type Mode string

const (
	ModeBacktest  Mode = "backtest"
	ModeFitness   Mode = "fitness"
	ModeLivetrade Mode = "livetrade"
)

func (m Mode) IsBacktesting() bool {
	return m == ModeBacktest || m == ModeFitness
}

func (m Mode) IsLive() bool {
	return m == ModeLivetrade
}

func (m Mode) IsAvailable() bool {
	switch m {
	case ModeBacktest, ModeFitness, ModeLivetrade:
		return true
	default:
		return false
	}
}
