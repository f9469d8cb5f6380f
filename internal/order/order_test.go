package order

import (
	"testing"

	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActive(side schema.Side, typ schema.OrderType, qty, price float64) *Order {
	return &Order{
		ID:        NewID(),
		Symbol:    "ETHUSD",
		Side:      side,
		Type:      typ,
		Quantity:  SignedQuantity(qty, side),
		Price:     price,
		Status:    schema.OrderStatusActive,
		CreatedAt: 1000,
	}
}

func TestSignedQuantity(t *testing.T) {
	assert.Equal(t, 2.0, SignedQuantity(2, schema.SideBuy))
	assert.Equal(t, 2.0, SignedQuantity(-2, schema.SideBuy))
	assert.Equal(t, -2.0, SignedQuantity(2, schema.SideSell))
}

func TestCancelTerminalIsNoop(t *testing.T) {
	o := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 100)
	require.True(t, o.Cancel(2000))
	assert.True(t, o.IsCanceled())
	assert.Equal(t, int64(2000), o.CanceledAt)

	assert.False(t, o.Cancel(3000))
	assert.Equal(t, int64(2000), o.CanceledAt)

	executed := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 100)
	require.True(t, executed.Execute(2000))
	assert.False(t, executed.Cancel(3000))
	assert.True(t, executed.IsExecuted())
	assert.Zero(t, executed.CanceledAt)
}

func TestExecuteTerminalIsNoop(t *testing.T) {
	o := newActive(schema.SideSell, schema.OrderTypeStop, 1, 100)
	require.True(t, o.Execute(2000))
	assert.False(t, o.Execute(3000))
	assert.Equal(t, int64(2000), o.ExecutedAt)

	canceled := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 100)
	require.True(t, canceled.Cancel(1000))
	assert.False(t, canceled.Execute(2000))
	assert.Equal(t, schema.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, int64(1000), canceled.CanceledAt)
	assert.Zero(t, canceled.ExecutedAt)
}

func TestIsExecutedPrefix(t *testing.T) {
	o := newActive(schema.SideSell, schema.OrderTypeLimit, 1, 100)
	o.Status = schema.OrderStatus("EXECUTED @ 100.0(-1.0)")
	assert.True(t, o.IsExecuted())
	assert.False(t, o.IsActive())

	o.Status = schema.OrderStatus("PARTIALLY FILLED @ 100.0(-0.5)")
	assert.True(t, o.IsPartiallyFilled())
	assert.False(t, o.IsExecuted())
}

func TestUpdatePriceAndQuantity(t *testing.T) {
	o := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 100)
	assert.False(t, o.UpdatePrice(100, 2000))
	assert.Zero(t, o.UpdatedAt)

	assert.True(t, o.UpdatePrice(101, 2000))
	assert.Equal(t, 101.0, o.Price)
	assert.Equal(t, int64(2000), o.UpdatedAt)

	assert.True(t, o.UpdateQuantity(3, 3000))
	assert.Equal(t, 3.0, o.Quantity)
	assert.Equal(t, int64(3000), o.UpdatedAt)

	o.Cancel(4000)
	assert.False(t, o.UpdatePrice(99, 5000))
	assert.Equal(t, 101.0, o.Price)
}

func TestFlags(t *testing.T) {
	o := newActive(schema.SideSell, schema.OrderTypeTrailingStop, 1, 100)
	o.Flag = schema.OrderFlagReduceOnly
	assert.True(t, o.IsReduceOnly())
	assert.False(t, o.IsClose())
	assert.True(t, o.IsTrailingStop())
}

func TestRatchet(t *testing.T) {
	sell := newActive(schema.SideSell, schema.OrderTypeTrailingStop, 1, 95)
	sell.TrailingDistance = 5

	assert.False(t, sell.Ratchet(99, 1), "within distance")
	assert.True(t, sell.Ratchet(110, 2))
	assert.Equal(t, 105.0, sell.Price)

	buy := newActive(schema.SideBuy, schema.OrderTypeTrailingStop, 1, 105)
	buy.TrailingDistance = 5
	assert.True(t, buy.Ratchet(90, 3))
	assert.Equal(t, 95.0, buy.Price)

	limit := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 105)
	assert.False(t, limit.Ratchet(50, 4))
}

func TestRatchetNeverLoosens(t *testing.T) {
	sell := newActive(schema.SideSell, schema.OrderTypeTrailingStop, 1, 95)
	sell.TrailingDistance = 5
	assert.False(t, sell.Ratchet(80, 1), "gap below the stop")
	assert.Equal(t, 95.0, sell.Price)
	assert.Zero(t, sell.UpdatedAt)

	buy := newActive(schema.SideBuy, schema.OrderTypeTrailingStop, 1, 105)
	buy.TrailingDistance = 5
	assert.False(t, buy.Ratchet(120, 2), "gap above the stop")
	assert.Equal(t, 105.0, buy.Price)
}

func TestBook(t *testing.T) {
	b := NewBook()
	_, _, ok := b.LastTwo()
	assert.False(t, ok)

	first := newActive(schema.SideBuy, schema.OrderTypeLimit, 1, 100)
	second := newActive(schema.SideSell, schema.OrderTypeStop, 1, 90)
	third := newActive(schema.SideSell, schema.OrderTypeLimit, 1, 110)
	require.NoError(t, b.Add(first))
	require.NoError(t, b.Add(second))
	require.NoError(t, b.Add(third))
	assert.ErrorIs(t, b.Add(first), exception.ErrOrderDuplicated)
	assert.ErrorIs(t, b.Add(&Order{}), exception.ErrInvalidArgument)

	older, newer, ok := b.LastTwo()
	require.True(t, ok)
	assert.Same(t, second, older)
	assert.Same(t, third, newer)

	got, ok := b.Get(first.ID)
	require.True(t, ok)
	assert.Same(t, first, got)

	_, err := b.Cancel("missing", 1)
	assert.ErrorIs(t, err, exception.ErrOrderNotFound)

	first.Execute(5)
	assert.Equal(t, 2, b.CountActive())
	assert.Equal(t, 2, b.CancelAll(6))
	assert.Equal(t, 0, b.CountActive())
	assert.True(t, first.IsExecuted())

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	snap[0].Price = 1
	assert.Equal(t, 100.0, first.Price)
}
