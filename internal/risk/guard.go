// Package risk watches account health and executes the liquidation path
// when a position falls below its minimum health ratio.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
)

// Guard reads account health from the lending venue. Decisions always use a
// fresh venue read; the cache only feeds the read API.
type Guard struct {
	venue  domain.LendingVenue
	cache  domain.HealthCache
	logger *slog.Logger
}

func NewGuard(venue domain.LendingVenue, cache domain.HealthCache, logger *slog.Logger) *Guard {
	return &Guard{venue: venue, cache: cache, logger: logger.With("component", "risk")}
}

// CurrentHealth fetches the venue's account health and refreshes the cache.
func (g *Guard) CurrentHealth(ctx context.Context) (domain.AccountHealth, error) {
	health, err := g.venue.AccountHealth(ctx)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("risk: fetch account health: %w", err)
	}
	if g.cache != nil {
		if err := g.cache.Set(ctx, g.venue.Name(), health, time.Now().UTC()); err != nil {
			g.logger.Warn("health cache write failed", "venue", g.venue.Name(), "error", err)
		}
	}
	return health, nil
}

// CheckAbove fails with ErrHealthTooLow when the account sits below min;
// sitting exactly at min passes.
func (g *Guard) CheckAbove(ctx context.Context, min float64) (domain.AccountHealth, error) {
	health, err := g.CurrentHealth(ctx)
	if err != nil {
		return domain.AccountHealth{}, err
	}
	if health.HealthRatio < min {
		return health, fmt.Errorf("risk: health %.4f below minimum %.4f: %w",
			health.HealthRatio, min, domain.ErrHealthTooLow)
	}
	return health, nil
}

// LiquidationDue reports whether pos has breached its own minimum health.
func (g *Guard) LiquidationDue(ctx context.Context, pos domain.Position) (bool, domain.AccountHealth, error) {
	health, err := g.CurrentHealth(ctx)
	if err != nil {
		return false, domain.AccountHealth{}, err
	}
	return health.HealthRatio < pos.MinHealthRatio, health, nil
}
