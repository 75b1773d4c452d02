package jurisdiction

import (
	"fmt"
	"sort"

	"github.com/rezonia/einvoicing/internal/model"
)

// Registry is the fixed table of strategies, built once at startup
type Registry struct {
	strategies map[model.Country]Strategy
}

// NewRegistry builds a registry, rejecting nil and duplicate strategies
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[model.Country]Strategy, len(strategies))}
	for _, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("nil strategy")
		}
		c := s.Country()
		if _, dup := r.strategies[c]; dup {
			return nil, fmt.Errorf("duplicate strategy for %s", c)
		}
		r.strategies[c] = s
	}
	return r, nil
}

// ForCountry returns the strategy of a country code
func (r *Registry) ForCountry(code string) (Strategy, error) {
	c, err := model.ParseCountry(code)
	if err != nil {
		return nil, err
	}
	s, ok := r.strategies[c]
	if !ok {
		return nil, model.NewUnsupportedJurisdictionError(code)
	}
	return s, nil
}

// Countries lists the registered jurisdictions in code order
func (r *Registry) Countries() []model.Country {
	out := make([]model.Country, 0, len(r.strategies))
	for c := range r.strategies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
