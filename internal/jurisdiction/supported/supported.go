// Package supported assembles the registry of every jurisdiction the engine
// ships with.
package supported

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/jurisdiction/france"
	"github.com/rezonia/einvoicing/internal/jurisdiction/germany"
	"github.com/rezonia/einvoicing/internal/jurisdiction/spain"
	"github.com/rezonia/einvoicing/internal/model"
)

// Deps are shared by every strategy. Per-country options are applied after
// the shared ones.
type Deps struct {
	Gateway *gateway.Gateway
	Fiscal  *fiscal.Table
	Logger  *zerolog.Logger

	France  []france.Option
	Germany []germany.Option
	Spain   []spain.Option
}

// NewRegistry builds one strategy per model.Countries()
func NewRegistry(deps Deps) (*jurisdiction.Registry, error) {
	if deps.Gateway == nil {
		deps.Gateway = gateway.New(gateway.Config{Logger: deps.Logger})
	}
	if deps.Fiscal == nil {
		deps.Fiscal = fiscal.Default()
	}

	strategies := make([]jurisdiction.Strategy, 0, len(model.Countries()))
	for _, c := range model.Countries() {
		s, err := newStrategy(c, deps)
		if err != nil {
			return nil, fmt.Errorf("build %s strategy: %w", c, err)
		}
		strategies = append(strategies, s)
	}
	return jurisdiction.NewRegistry(strategies...)
}

func newStrategy(c model.Country, deps Deps) (jurisdiction.Strategy, error) {
	switch c {
	case model.CountryFrance:
		opts := []france.Option{france.WithFiscal(deps.Fiscal)}
		if deps.Logger != nil {
			opts = append(opts, france.WithLogger(*deps.Logger))
		}
		return france.New(deps.Gateway, append(opts, deps.France...)...)
	case model.CountryGermany:
		opts := []germany.Option{germany.WithFiscal(deps.Fiscal)}
		if deps.Logger != nil {
			opts = append(opts, germany.WithLogger(*deps.Logger))
		}
		return germany.New(deps.Gateway, append(opts, deps.Germany...)...)
	case model.CountrySpain:
		opts := []spain.Option{spain.WithFiscal(deps.Fiscal)}
		if deps.Logger != nil {
			opts = append(opts, spain.WithLogger(*deps.Logger))
		}
		return spain.New(deps.Gateway, append(opts, deps.Spain...)...)
	}
	return nil, model.NewUnsupportedJurisdictionError(string(c))
}
