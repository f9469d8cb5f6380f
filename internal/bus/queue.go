package bus

import (
	"context"
	"sync"

	"backtest/internal/order"
	"backtest/internal/schema"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Kind identifies what an Event carries.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindCandle
	KindOrderExecuted
	KindOrderCanceled
	KindOrderUpdated
	KindPosition
	KindDisconnected
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindCandle:
		return "candle"
	case KindOrderExecuted:
		return "order_executed"
	case KindOrderCanceled:
		return "order_canceled"
	case KindOrderUpdated:
		return "order_updated"
	case KindPosition:
		return "position"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is the unit passed from the venue connection to the engine loop.
type Event struct {
	Kind Kind
	// Time is the venue timestamp in unix ms.
	Time int64

	Candle schema.Candle
	Order  order.Order

	PositionQuantity   float64
	PositionEntryPrice float64
}

// Queue is a bounded, non-blocking event queue.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return errors.Wrap(ErrQueueFull, e.Kind.String())
	}
}

// Close stops the queue from accepting new events. Buffered events are still
// delivered by Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Run consumes events until the context is done or the queue is closed and
// drained. Handler errors stop the loop and are returned.
func (q *Queue) Run(ctx context.Context, handler func(context.Context, Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, e); err != nil {
				return err
			}
		}
	}
}
