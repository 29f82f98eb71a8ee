package market

import (
	"fmt"
	"sort"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

// Registry maps symbols to their metadata. It is filled once by NewRegistry and
// never mutated afterwards, so lookups need no locking.
type Registry struct {
	markets map[string]*Market // symbol -> market
	symbols []string           // sorted
}

// NewRegistry validates and indexes the given markets.
// Returns error on invalid parameters or duplicate symbols.
func NewRegistry(markets ...*Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]*Market, len(markets))}
	for _, m := range markets {
		if m == nil {
			return nil, fmt.Errorf("cannot register nil market")
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid market params: %w", err)
		}
		if _, exists := r.markets[m.Symbol]; exists {
			return nil, fmt.Errorf("market %s already registered", m.Symbol)
		}
		cp := *m
		r.markets[m.Symbol] = &cp
		r.symbols = append(r.symbols, m.Symbol)
	}
	sort.Strings(r.symbols)
	return r, nil
}

// Lookup retrieves a market by symbol.
func (r *Registry) Lookup(symbol string) (*Market, error) {
	m, exists := r.markets[symbol]
	if !exists {
		return nil, core.Reject(core.ErrUnknownSymbol, "market %s not found", symbol)
	}
	return m, nil
}

// List returns all registered markets sorted by symbol.
func (r *Registry) List() []*Market {
	out := make([]*Market, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.markets[s])
	}
	return out
}

func (r *Registry) Symbols() []string {
	return append([]string(nil), r.symbols...)
}

func (r *Registry) Count() int { return len(r.symbols) }

func (r *Registry) Exists(symbol string) bool {
	_, exists := r.markets[symbol]
	return exists
}
