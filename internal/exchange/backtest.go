package exchange

import (
	"context"
	"fmt"

	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Backtest fills nothing by itself: it validates and records orders into the
// book the replay engine matches against. Market orders execute immediately
// at the simulated price.
type Backtest struct {
	sim      *state.Simulation
	book     *order.Book
	registry *schema.Registry
}

// NewBacktest creates a simulated exchange over the run's book.
func NewBacktest(sim *state.Simulation, book *order.Book, registry *schema.Registry) *Backtest {
	return &Backtest{sim: sim, book: book, registry: registry}
}

func (b *Backtest) MarketOrder(_ context.Context, symbol string, quantity float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	o, err := b.newOrder(symbol, quantity, b.sim.CurrentPrice, side, schema.OrderTypeMarket, flag)
	if err != nil {
		return nil, err
	}
	o.Execute(b.sim.CurrentTime)
	return b.add(o)
}

func (b *Backtest) LimitOrder(_ context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	return b.submit(symbol, quantity, price, side, schema.OrderTypeLimit, flag)
}

func (b *Backtest) StopOrder(_ context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	return b.submit(symbol, quantity, price, side, schema.OrderTypeStop, flag)
}

// TrailingStopOrder places the initial trigger trailingDistance away from the
// simulated price, above it for buys and below it for sells.
func (b *Backtest) TrailingStopOrder(_ context.Context, symbol string, quantity, trailingDistance float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	if trailingDistance <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidPrice, "trailing distance %v", trailingDistance)
	}
	price := b.sim.CurrentPrice - trailingDistance
	if side == schema.SideBuy {
		price = b.sim.CurrentPrice + trailingDistance
	}
	o, err := b.newOrder(symbol, quantity, price, side, schema.OrderTypeTrailingStop, flag)
	if err != nil {
		return nil, err
	}
	o.TrailingDistance = trailingDistance
	return b.add(o)
}

func (b *Backtest) CancelOrder(_ context.Context, id string) (string, error) {
	o, err := b.book.Cancel(id, b.sim.CurrentTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("order %s %s", o.ID, o.Status), nil
}

func (b *Backtest) CancelAllOrders(context.Context) (string, error) {
	n := b.book.CancelAll(b.sim.CurrentTime)
	return fmt.Sprintf("canceled %d orders", n), nil
}

func (b *Backtest) submit(symbol string, quantity, price float64, side schema.Side, typ schema.OrderType, flag schema.OrderFlag) (*order.Order, error) {
	if price <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidPrice, "%s price %v", typ, price)
	}
	o, err := b.newOrder(symbol, quantity, price, side, typ, flag)
	if err != nil {
		return nil, err
	}
	return b.add(o)
}

func (b *Backtest) add(o *order.Order) (*order.Order, error) {
	if err := b.book.Add(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (b *Backtest) newOrder(symbol string, quantity, price float64, side schema.Side, typ schema.OrderType, flag schema.OrderFlag) (*order.Order, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	if err := b.registry.Validate(symbol); err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "zero quantity")
	}
	return &order.Order{
		ID:        order.NewID(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Flag:      flag,
		Quantity:  order.SignedQuantity(quantity, side),
		Price:     price,
		Status:    schema.OrderStatusActive,
		CreatedAt: b.sim.CurrentTime,
	}, nil
}
