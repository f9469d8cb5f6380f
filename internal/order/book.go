package order

import (
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Book keeps every order submitted during a run in submission order.
type Book struct {
	orders []*Order
	byID   map[string]*Order
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{byID: make(map[string]*Order)}
}

// Add appends a submitted order.
func (b *Book) Add(o *Order) error {
	if o == nil || o.ID == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "add order without id")
	}
	if _, ok := b.byID[o.ID]; ok {
		return errors.Wrapf(exception.ErrOrderDuplicated, "order %s", o.ID)
	}
	b.orders = append(b.orders, o)
	b.byID[o.ID] = o
	return nil
}

// Get returns an order by id.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Len returns the number of submitted orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// At returns the i-th submitted order.
func (b *Book) At(i int) *Order {
	return b.orders[i]
}

// LastTwo returns the two most recently submitted orders, older first.
func (b *Book) LastTwo() (*Order, *Order, bool) {
	n := len(b.orders)
	if n < 2 {
		return nil, nil, false
	}
	return b.orders[n-2], b.orders[n-1], true
}

// CountActive returns the number of active orders.
func (b *Book) CountActive() int {
	var count int
	for _, o := range b.orders {
		if o.IsActive() {
			count++
		}
	}
	return count
}

// Cancel cancels one order by id.
func (b *Book) Cancel(id string, now int64) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderNotFound, "cancel %s", id)
	}
	o.Cancel(now)
	return o, nil
}

// CancelAll cancels every active order and returns how many were canceled.
func (b *Book) CancelAll(now int64) int {
	var count int
	for _, o := range b.orders {
		if o.IsActive() && o.Cancel(now) {
			count++
		}
	}
	return count
}

// Snapshot copies every order for persistence.
func (b *Book) Snapshot() []Order {
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out
}
