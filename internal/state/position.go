package state

import (
	"math"

	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Position is the single position held on the traded symbol.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
}

// Type returns long, short or flat from the quantity sign.
func (p Position) Type() schema.TradeType {
	switch {
	case p.Quantity > 0:
		return schema.TradeTypeLong
	case p.Quantity < 0:
		return schema.TradeTypeShort
	default:
		return schema.TradeTypeFlat
	}
}

func (p Position) IsOpen() bool {
	return p.Quantity != 0
}

// Ledger applies fills to the position and settles them against the simulation balance.
type Ledger struct {
	sim *Simulation
	pos Position
}

// NewLedger creates a flat position on symbol.
func NewLedger(symbol string, sim *Simulation) *Ledger {
	return &Ledger{sim: sim, pos: Position{Symbol: symbol}}
}

// Position returns the current position.
func (l *Ledger) Position() Position {
	return l.pos
}

// Open debits the cost of qty at price and folds it into the entry price.
func (l *Ledger) Open(qty, price float64) {
	l.sim.ReduceBalance(math.Abs(qty) * price)
	l.pos.EntryPrice = EstimateAveragePrice(qty, price, l.pos.Quantity, l.pos.EntryPrice)
	l.pos.Quantity += qty
}

// Increase adds to an open position the same way Open does.
func (l *Ledger) Increase(qty, price float64) {
	l.Open(qty, price)
}

// Reduce realizes |qty| of the position at price.
func (l *Ledger) Reduce(qty, price float64) error {
	if !l.pos.IsOpen() {
		return errors.Wrap(exception.ErrEmptyPosition, "reduce")
	}
	qty = math.Abs(qty)
	l.settle(qty, price)

	switch l.pos.Type() {
	case schema.TradeTypeLong:
		l.pos.Quantity -= qty
	case schema.TradeTypeShort:
		l.pos.Quantity += qty
	}
	return nil
}

// Close realizes the whole position at price.
func (l *Ledger) Close(price float64) error {
	if !l.pos.IsOpen() {
		return errors.Wrap(exception.ErrEmptyPosition, "close")
	}
	l.settle(math.Abs(l.pos.Quantity), price)
	l.pos.Quantity = 0
	return nil
}

// Update applies a signed fill of any direction. An opposite fill larger than
// the position closes it and opens the remainder on the other side.
func (l *Ledger) Update(qty, price float64) error {
	if qty == 0 {
		return nil
	}
	current := l.pos.Quantity
	if current*qty >= 0 {
		l.Open(qty, price)
		return nil
	}

	switch {
	case math.Abs(qty) == math.Abs(current):
		return l.Close(price)
	case math.Abs(qty) < math.Abs(current):
		return l.Reduce(qty, price)
	default:
		if err := l.Close(price); err != nil {
			return err
		}
		l.Open(current+qty, price)
		return nil
	}
}

// Sync overwrites the position from a venue position feed.
func (l *Ledger) Sync(qty, entryPrice float64) {
	l.pos.Quantity = qty
	l.pos.EntryPrice = entryPrice
}

func (l *Ledger) settle(qty, price float64) {
	profit := EstimateProfit(qty, l.pos.EntryPrice, price, l.pos.Type())
	l.sim.AddProfit(profit)
	l.sim.IncreaseBalance(qty*l.pos.EntryPrice + profit)
}

// EstimateAveragePrice is the quantity weighted price of two fills.
func EstimateAveragePrice(q1, p1, q2, p2 float64) float64 {
	q1, q2 = math.Abs(q1), math.Abs(q2)
	if q1+q2 == 0 {
		return 0
	}
	return (q1*p1 + q2*p2) / (q1 + q2)
}

// EstimateProfit is the gross profit of closing |qty| opened at entry and closed at exit.
func EstimateProfit(qty, entry, exit float64, typ schema.TradeType) float64 {
	profit := math.Abs(qty) * (exit - entry)
	if typ == schema.TradeTypeShort {
		profit = -profit
	}
	return profit
}
