// Package exchange implements the venue collaborator the strategy trades
// through: an inline simulator for backtests and a websocket client for live
// trading.
package exchange

import (
	"context"
	"time"

	"backtest/internal/order"
	"backtest/internal/schema"
)

// Exchange submits and cancels orders. Quantities are unsigned; the side
// gives the direction.
type Exchange interface {
	MarketOrder(ctx context.Context, symbol string, quantity float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error)
	LimitOrder(ctx context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error)
	StopOrder(ctx context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error)
	TrailingStopOrder(ctx context.Context, symbol string, quantity, trailingDistance float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error)
	CancelOrder(ctx context.Context, id string) (string, error)
	CancelAllOrders(ctx context.Context) (string, error)
}

// Clock abstracts waiting and wall time for the live client.
type Clock interface {
	Now() int64
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() int64 {
	return time.Now().UnixMilli()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
