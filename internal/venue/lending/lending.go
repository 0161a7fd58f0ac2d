// Package lending holds the gateway adapters for the supported lending
// venues. The set is closed: aave, morpho, and spark. Each adapter maps the
// venue's own account model onto the common capability interface.
package lending

import (
	"fmt"
	"math/big"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

// Supported venue names.
const (
	VenueAave   = "aave"
	VenueMorpho = "morpho"
	VenueSpark  = "spark"
)

// Options carries the per-variant parameters an adapter may need.
type Options struct {
	// MorphoMarketID selects the isolated market for the morpho adapter.
	// Ignored by the pooled venues.
	MorphoMarketID string
}

// New returns the adapter for the named venue.
func New(name string, gw *gateway.Client, opts Options) (domain.LendingVenue, error) {
	switch name {
	case VenueAave:
		return NewAave(gw), nil
	case VenueMorpho:
		if opts.MorphoMarketID == "" {
			return nil, fmt.Errorf("lending: morpho adapter requires a market id: %w", domain.ErrInvalidInput)
		}
		return NewMorpho(gw, opts.MorphoMarketID), nil
	case VenueSpark:
		return NewSpark(gw), nil
	default:
		return nil, fmt.Errorf("lending: unknown venue %q: %w", name, domain.ErrInvalidInput)
	}
}

// healthRatio computes collateral/debt capped at HealthInfinity for
// debt-free accounts.
func healthRatio(collateral, debt *big.Int) float64 {
	if debt == nil || debt.Sign() == 0 {
		return domain.HealthInfinity
	}
	c := new(big.Float).SetInt(collateral)
	d := new(big.Float).SetInt(debt)
	r, _ := new(big.Float).Quo(c, d).Float64()
	if r > domain.HealthInfinity {
		return domain.HealthInfinity
	}
	return r
}
