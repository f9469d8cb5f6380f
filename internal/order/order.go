package order

import (
	"strings"

	"backtest/internal/schema"

	"github.com/google/uuid"
)

// Order is a single order and its lifecycle. Timestamps are unix milliseconds, 0 when unset.
type Order struct {
	ID               string             `json:"id"`
	Symbol           string             `json:"symbol"`
	Side             schema.Side        `json:"side"`
	Type             schema.OrderType   `json:"type"`
	Flag             schema.OrderFlag   `json:"flag"`
	Quantity         float64            `json:"quantity"`
	Price            float64            `json:"price"`
	TrailingDistance float64            `json:"trailingDistance,omitempty"`
	Status           schema.OrderStatus `json:"status"`
	CreatedAt        int64              `json:"createdAt"`
	UpdatedAt        int64              `json:"updatedAt,omitempty"`
	ExecutedAt       int64              `json:"executedAt,omitempty"`
	CanceledAt       int64              `json:"canceledAt,omitempty"`
}

// NewID returns a random order id.
func NewID() string {
	return uuid.NewString()
}

// SignedQuantity makes quantity positive for buys and negative for sells.
func SignedQuantity(quantity float64, side schema.Side) float64 {
	if quantity < 0 {
		quantity = -quantity
	}
	if side == schema.SideSell {
		return -quantity
	}
	return quantity
}

// Cancel moves an active order to CANCELED. Terminal orders are left untouched.
func (o *Order) Cancel(now int64) bool {
	if o.IsCanceled() || o.IsExecuted() {
		return false
	}
	o.Status = schema.OrderStatusCanceled
	o.CanceledAt = now
	return true
}

// Execute moves an active order to EXECUTED. Terminal orders are left untouched.
func (o *Order) Execute(now int64) bool {
	if o.IsCanceled() || o.IsExecuted() {
		return false
	}
	o.Status = schema.OrderStatusExecuted
	o.ExecutedAt = now
	return true
}

// UpdatePrice changes the trigger price of an active order.
func (o *Order) UpdatePrice(price float64, now int64) bool {
	if !o.IsActive() || o.Price == price {
		return false
	}
	o.Price = price
	o.UpdatedAt = now
	return true
}

// UpdateQuantity changes the signed quantity of an active order.
func (o *Order) UpdateQuantity(quantity float64, now int64) bool {
	if !o.IsActive() || o.Quantity == quantity {
		return false
	}
	o.Quantity = quantity
	o.UpdatedAt = now
	return true
}

func (o *Order) IsActive() bool {
	return o.Status == schema.OrderStatusActive
}

func (o *Order) IsCanceled() bool {
	return o.Status == schema.OrderStatusCanceled
}

// IsExecuted matches by prefix since venues append fill details to the status.
func (o *Order) IsExecuted() bool {
	return strings.HasPrefix(string(o.Status), string(schema.OrderStatusExecuted))
}

func (o *Order) IsPartiallyFilled() bool {
	return strings.HasPrefix(string(o.Status), string(schema.OrderStatusPartiallyFilled))
}

func (o *Order) IsReduceOnly() bool {
	return o.Flag == schema.OrderFlagReduceOnly
}

func (o *Order) IsClose() bool {
	return o.Flag == schema.OrderFlagClose
}

func (o *Order) IsTrailingStop() bool {
	return o.Type == schema.OrderTypeTrailingStop
}

// Ratchet tightens a trailing stop toward currentPrice when price moved further than its
// distance. The trigger never moves away from the market.
func (o *Order) Ratchet(currentPrice float64, now int64) bool {
	if !o.IsActive() || !o.IsTrailingStop() {
		return false
	}
	if o.Side == schema.SideBuy {
		next := currentPrice + o.TrailingDistance
		if next >= o.Price {
			return false
		}
		return o.UpdatePrice(next, now)
	}
	next := currentPrice - o.TrailingDistance
	if next <= o.Price {
		return false
	}
	return o.UpdatePrice(next, now)
}
