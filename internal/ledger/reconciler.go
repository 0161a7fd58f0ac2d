package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yieldloop/loopd/internal/domain"
)

// Reconciler periodically compares ledger totals against the lending
// venue's account view and raises a drift event when they disagree beyond
// tolerance.
type Reconciler struct {
	service      *Service
	venue        domain.LendingVenue
	audit        domain.AuditStore
	bus          domain.SignalBus
	interval     time.Duration
	toleranceBps int64
	logger       *slog.Logger
}

// ReconcilerConfig configures the periodic check.
type ReconcilerConfig struct {
	Interval     time.Duration
	ToleranceBps int64
}

func NewReconciler(service *Service, venue domain.LendingVenue, audit domain.AuditStore, bus domain.SignalBus, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ToleranceBps <= 0 {
		cfg.ToleranceBps = 10
	}
	return &Reconciler{
		service:      service,
		venue:        venue,
		audit:        audit,
		bus:          bus,
		interval:     cfg.Interval,
		toleranceBps: cfg.ToleranceBps,
		logger:       logger.With("component", "reconciler"),
	}
}

// Run reconciles on a fixed interval until ctx is canceled. Individual
// failures are logged, not fatal.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Warn("reconcile pass failed", "error", err)
			}
		}
	}
}

// ReconcileOnce runs a single ledger-versus-venue comparison. It returns
// ErrLedgerDrift when the two views disagree beyond tolerance.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	var (
		totals Totals
		health domain.AccountHealth
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = r.service.Totals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		health, err = r.venue.AccountHealth(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ledger: reconcile fetch: %w", err)
	}

	collOK := withinTolerance(totals.CollateralDeposited, health.CollateralValue, r.toleranceBps)
	debtOK := withinTolerance(totals.DebtOutstanding, health.DebtValue, r.toleranceBps)
	if collOK && debtOK {
		r.logger.Debug("ledger reconciled",
			"positions", totals.ActivePositions,
			"collateral", totals.CollateralDeposited.String(),
			"debt", totals.DebtOutstanding.String())
		return nil
	}

	detail := map[string]any{
		"ledger_collateral": totals.CollateralDeposited.String(),
		"venue_collateral":  health.CollateralValue.String(),
		"ledger_debt":       totals.DebtOutstanding.String(),
		"venue_debt":        health.DebtValue.String(),
		"tolerance_bps":     r.toleranceBps,
		"venue":             r.venue.Name(),
	}
	if err := r.audit.Log(ctx, domain.EventLedgerDrift, detail); err != nil {
		r.logger.Warn("audit write failed", "event", domain.EventLedgerDrift, "error", err)
	}
	if r.bus != nil {
		if payload, err := json.Marshal(map[string]any{"event": domain.EventLedgerDrift, "detail": detail}); err == nil {
			if err := r.bus.Publish(ctx, domain.ChannelDrift, payload); err != nil {
				r.logger.Warn("bus publish failed", "channel", domain.ChannelDrift, "error", err)
			}
		}
	}
	r.logger.Error("ledger drift detected",
		"ledger_collateral", totals.CollateralDeposited.String(),
		"venue_collateral", health.CollateralValue.String(),
		"ledger_debt", totals.DebtOutstanding.String(),
		"venue_debt", health.DebtValue.String())
	return fmt.Errorf("ledger: venue %s disagrees with ledger: %w", r.venue.Name(), domain.ErrLedgerDrift)
}

// withinTolerance reports whether |a-b| <= max(a,b)*bps/10000, with an
// absolute floor of 1 unit so dust never trips the alarm.
func withinTolerance(a, b *big.Int, bps int64) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(1)) <= 0 {
		return true
	}
	max := a
	if b.Cmp(a) > 0 {
		max = b
	}
	allowed := new(big.Int).Mul(max, big.NewInt(bps))
	allowed.Quo(allowed, big.NewInt(10_000))
	return diff.Cmp(allowed) <= 0
}
