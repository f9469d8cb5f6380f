package schema

import (
	"backtest/pkg/exception"

	"github.com/yanun0323/errors"
)

// Symbol describes a tradable instrument.
type Symbol struct {
	Name string
	// Pip is the smallest meaningful price step, used by strategies to offset entries.
	Pip float64
}

// Registry stores the symbols a run is allowed to trade or track.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]int),
	}
}

// AddSymbol registers a new symbol.
func (r *Registry) AddSymbol(name string, pip float64) error {
	if name == "" {
		return errors.Wrap(exception.ErrInvalidSymbol, "symbol name is empty")
	}
	if pip < 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "negative pip for %s", name)
	}
	if _, ok := r.symbolByName[name]; ok {
		return errors.Errorf("symbol already exists: %s", name)
	}
	r.symbolByName[name] = len(r.symbols)
	r.symbols = append(r.symbols, Symbol{Name: name, Pip: pip})
	return nil
}

// Symbol returns the symbol by name.
func (r *Registry) Symbol(name string) (Symbol, bool) {
	if r == nil {
		return Symbol{}, false
	}
	idx, ok := r.symbolByName[name]
	if !ok {
		return Symbol{}, false
	}
	return r.symbols[idx], true
}

// Validate fails with ErrInvalidSymbol when name is not registered.
func (r *Registry) Validate(name string) error {
	if _, ok := r.Symbol(name); !ok {
		return errors.Wrapf(exception.ErrInvalidSymbol, "symbol %q", name)
	}
	return nil
}

// Pip returns the pip of a registered symbol, or 0.
func (r *Registry) Pip(name string) float64 {
	sym, _ := r.Symbol(name)
	return sym.Pip
}

// Symbols returns registered symbols in insertion order.
func (r *Registry) Symbols() []Symbol {
	if r == nil {
		return nil
	}
	out := make([]Symbol, len(r.symbols))
	copy(out, r.symbols)
	return out
}
