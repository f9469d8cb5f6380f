package risk

import (
	"fmt"
	"math"

	"backtest/internal/schema"
)

// Config defines static pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch            bool    `json:"killSwitch"`
	MaxOrderQty           float64 `json:"maxOrderQty"`
	MaxOrderNotional      float64 `json:"maxOrderNotional"`
	MaxPosition           float64 `json:"maxPosition"`
	RiskPerCapitalPercent float64 `json:"riskPerCapitalPercent"`
}

func (c Config) withDefaults() Config {
	if c.RiskPerCapitalPercent == 0 {
		c.RiskPerCapitalPercent = 3
	}
	return c
}

// Validate rejects negative limits.
func (c Config) Validate() error {
	if c.MaxOrderQty < 0 {
		return fmt.Errorf("invalid risk config: maxOrderQty must be >= 0")
	}
	if c.MaxOrderNotional < 0 {
		return fmt.Errorf("invalid risk config: maxOrderNotional must be >= 0")
	}
	if c.MaxPosition < 0 {
		return fmt.Errorf("invalid risk config: maxPosition must be >= 0")
	}
	if c.RiskPerCapitalPercent < 0 || c.RiskPerCapitalPercent > 100 {
		return fmt.Errorf("invalid risk config: riskPerCapitalPercent must be within [0,100]")
	}
	return nil
}

// Reason explains a denial.
type Reason uint8

const (
	_reason_beg Reason = iota
	ReasonNone
	ReasonKillSwitch
	ReasonMaxQty
	ReasonMaxNotional
	ReasonPositionLimit
	_reason_end
)

func (r Reason) IsAvailable() bool {
	return r > _reason_beg && r < _reason_end
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill switch"
	case ReasonMaxQty:
		return "max order quantity"
	case ReasonMaxNotional:
		return "max order notional"
	case ReasonPositionLimit:
		return "position limit"
	default:
		return "unknown"
	}
}

// Intent is an order about to be submitted. Quantity is signed.
type Intent struct {
	Symbol    string
	Side      schema.Side
	Quantity  float64
	Price     float64
	Flag      schema.OrderFlag
	Timestamp int64
}

// StateView provides the current position snapshot.
type StateView struct {
	Position float64
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Notional     float64
	NextPosition float64
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate applies the limits to an order intent. Reduce-only and close
// orders only shrink exposure and skip the position limit.
func (e *Engine) Evaluate(intent Intent, state StateView) Decision {
	qty := math.Abs(intent.Quantity)
	decision := Decision{
		Allowed:      true,
		Reason:       ReasonNone,
		Notional:     qty * intent.Price,
		NextPosition: applySide(state.Position, intent.Side, qty),
	}

	if e.cfg.KillSwitch {
		return deny(decision, ReasonKillSwitch)
	}
	if e.cfg.MaxOrderQty > 0 && qty > e.cfg.MaxOrderQty {
		return deny(decision, ReasonMaxQty)
	}
	if e.cfg.MaxOrderNotional > 0 && decision.Notional > e.cfg.MaxOrderNotional {
		return deny(decision, ReasonMaxNotional)
	}
	if intent.Flag != schema.OrderFlagNone {
		return decision
	}
	if e.cfg.MaxPosition > 0 && math.Abs(decision.NextPosition) > e.cfg.MaxPosition {
		return deny(decision, ReasonPositionLimit)
	}
	return decision
}

func deny(d Decision, reason Reason) Decision {
	d.Allowed = false
	d.Reason = reason
	return d
}

func applySide(pos float64, side schema.Side, qty float64) float64 {
	switch side {
	case schema.SideBuy:
		return pos + qty
	case schema.SideSell:
		return pos - qty
	default:
		return pos
	}
}

// RiskToSize converts a percentage of capital put at risk into a position
// size in quote currency, never larger than capital.
func RiskToSize(capital, riskPerCapital, riskPerQty, entryPrice float64) float64 {
	if riskPerQty == 0 {
		return 0
	}
	size := capital * (riskPerCapital / 100) / math.Abs(riskPerQty) * entryPrice
	return math.Min(capital, size)
}

// SizeToQuantity converts a quote size into base quantity at price.
func SizeToQuantity(size, price float64) float64 {
	if price == 0 {
		return 0
	}
	return size / price
}
