package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
)

// maxUnwindRounds bounds the withdraw/convert/repay cycle: each round frees
// collateral proportional to the debt just repaid, so the residue shrinks
// geometrically.
const maxUnwindRounds = 2 * domain.MaxLoops

// Report summarizes one completed liquidation.
type Report struct {
	PositionID           string
	HealthAtLiquidation  float64
	DebtRepaid           *big.Int
	ResidualReturned     *big.Int
	ShortfallOutstanding *big.Int
}

// Liquidator unwinds an unhealthy position: yield claims are sold first,
// principal collateral is withdrawn and converted as repayment frees it, and
// whatever base asset remains goes back to the owner. Liquidation never
// reverts on slippage; it takes the market it finds.
type Liquidator struct {
	positions domain.PositionStore
	market    domain.SplittingMarket
	venue     domain.LendingVenue
	swapper   domain.SwapVenue
	treasury  domain.Treasury
	audit     domain.AuditStore
	bus       domain.SignalBus
	logger    *slog.Logger
	now       func() time.Time
}

func NewLiquidator(positions domain.PositionStore, market domain.SplittingMarket, venue domain.LendingVenue, swapper domain.SwapVenue, treasury domain.Treasury, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *Liquidator {
	return &Liquidator{
		positions: positions,
		market:    market,
		venue:     venue,
		swapper:   swapper,
		treasury:  treasury,
		audit:     audit,
		bus:       bus,
		logger:    logger.With("component", "liquidator"),
		now:       time.Now,
	}
}

// Liquidate executes the full unwind for pos. The position is marked
// liquidating before the first external call and closed when the unwind
// completes, whether or not the debt was fully covered.
func (l *Liquidator) Liquidate(ctx context.Context, pos domain.Position, strat domain.StrategyConfig, healthAtTrigger float64) (Report, error) {
	pos.State = domain.HealthStateLiquidating
	if err := l.positions.Update(ctx, pos); err != nil {
		return Report{}, fmt.Errorf("risk: mark liquidating: %w", err)
	}
	l.logger.Warn("liquidation started",
		"position", pos.ID, "owner", pos.Owner.Hex(), "health", healthAtTrigger)

	totalRepaid := big.NewInt(0)
	baseHeld := big.NewInt(0)

	// Yield claims first: they decay toward zero at maturity, so they are
	// always the first asset out the door.
	if pos.Claims.Yield != nil && pos.Claims.Yield.Sign() > 0 {
		out, err := l.swapper.SwapExact(ctx, strat.YieldClaim, strat.BaseAsset, pos.Claims.Yield, big.NewInt(0))
		if err != nil {
			l.logger.Warn("yield claim sale failed", "position", pos.ID, "error", err)
		} else {
			baseHeld.Add(baseHeld, out)
			pos.Claims.Yield = big.NewInt(0)
		}
	}
	if repaid, err := l.repayFrom(ctx, strat, &pos, baseHeld); err == nil {
		totalRepaid.Add(totalRepaid, repaid)
	}

	matured := l.pastMaturity(ctx)

	// Withdraw collateral as repayment frees it, convert, repay again.
	for round := 0; round < maxUnwindRounds && pos.DebtOutstanding.Sign() > 0; round++ {
		free, err := l.venue.MaxWithdrawable(ctx, strat.PrincipalClaim)
		if err != nil {
			return l.finish(ctx, pos, strat, healthAtTrigger, totalRepaid, baseHeld, err)
		}
		if free.Sign() == 0 {
			break
		}
		withdrawn, err := l.venue.Withdraw(ctx, strat.PrincipalClaim, free)
		if err != nil {
			return l.finish(ctx, pos, strat, healthAtTrigger, totalRepaid, baseHeld, err)
		}
		pos.CollateralDeposited.Sub(pos.CollateralDeposited, withdrawn)

		out, err := l.convertPrincipal(ctx, strat, withdrawn, matured)
		if err != nil {
			return l.finish(ctx, pos, strat, healthAtTrigger, totalRepaid, baseHeld, err)
		}
		baseHeld.Add(baseHeld, out)
		repaid, err := l.repayFrom(ctx, strat, &pos, baseHeld)
		if err != nil {
			return l.finish(ctx, pos, strat, healthAtTrigger, totalRepaid, baseHeld, err)
		}
		totalRepaid.Add(totalRepaid, repaid)
	}

	// Debt settled (or stuck): pull any remaining collateral.
	if pos.CollateralDeposited.Sign() > 0 && pos.DebtOutstanding.Sign() == 0 {
		withdrawn, err := l.venue.Withdraw(ctx, strat.PrincipalClaim, pos.CollateralDeposited)
		if err == nil && withdrawn.Sign() > 0 {
			pos.CollateralDeposited.Sub(pos.CollateralDeposited, withdrawn)
			if out, cerr := l.convertPrincipal(ctx, strat, withdrawn, matured); cerr == nil {
				baseHeld.Add(baseHeld, out)
			}
		}
	}
	// Held principal claims in custody convert the same way.
	if pos.Claims.Principal != nil && pos.Claims.Principal.Sign() > 0 {
		if out, err := l.convertPrincipal(ctx, strat, pos.Claims.Principal, matured); err == nil {
			baseHeld.Add(baseHeld, out)
			pos.Claims.Principal = big.NewInt(0)
		}
	}

	return l.finish(ctx, pos, strat, healthAtTrigger, totalRepaid, baseHeld, nil)
}

// repayFrom applies up to baseHeld to the outstanding debt and deducts what
// was taken.
func (l *Liquidator) repayFrom(ctx context.Context, strat domain.StrategyConfig, pos *domain.Position, baseHeld *big.Int) (*big.Int, error) {
	if baseHeld.Sign() == 0 || pos.DebtOutstanding.Sign() == 0 {
		return big.NewInt(0), nil
	}
	want := new(big.Int).Set(baseHeld)
	if want.Cmp(pos.DebtOutstanding) > 0 {
		want.Set(pos.DebtOutstanding)
	}
	applied, err := l.venue.Repay(ctx, strat.BaseAsset, want)
	if err != nil {
		return nil, fmt.Errorf("risk: repay during liquidation: %w", err)
	}
	pos.DebtOutstanding.Sub(pos.DebtOutstanding, applied)
	baseHeld.Sub(baseHeld, applied)
	return applied, nil
}

// convertPrincipal turns principal claims into base asset: 1:1 redemption
// after maturity, market sale before it.
func (l *Liquidator) convertPrincipal(ctx context.Context, strat domain.StrategyConfig, amount *big.Int, matured bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if matured {
		out, err := l.market.RedeemPrincipal(ctx, amount)
		if err == nil {
			return out, nil
		}
		l.logger.Warn("principal redemption failed, falling back to sale", "error", err)
	}
	out, err := l.swapper.SwapExact(ctx, strat.PrincipalClaim, strat.BaseAsset, amount, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("risk: sell principal claims: %w", err)
	}
	return out, nil
}

func (l *Liquidator) pastMaturity(ctx context.Context) bool {
	maturity, err := l.market.Maturity(ctx)
	if err != nil {
		l.logger.Warn("maturity lookup failed", "error", err)
		return false
	}
	return !l.now().Before(maturity)
}

// finish closes the ledger record, returns residual base to the owner, and
// emits the liquidation event. An unwind error is reported after the record
// is made consistent.
func (l *Liquidator) finish(ctx context.Context, pos domain.Position, strat domain.StrategyConfig, healthAtTrigger float64, totalRepaid, baseHeld *big.Int, unwindErr error) (Report, error) {
	residual := big.NewInt(0)
	if baseHeld.Sign() > 0 && l.treasury != nil {
		if err := l.treasury.Push(ctx, pos.Owner, strat.BaseAsset, baseHeld); err != nil {
			l.logger.Warn("residual return failed", "position", pos.ID, "error", err)
		} else {
			residual.Set(baseHeld)
		}
	}

	now := l.now().UTC()
	pos.State = domain.HealthStateClosed
	pos.IsActive = false
	pos.ClosedAt = &now
	if err := l.positions.Update(ctx, pos); err != nil {
		return Report{}, fmt.Errorf("risk: close liquidated position: %w", err)
	}

	report := Report{
		PositionID:           pos.ID,
		HealthAtLiquidation:  healthAtTrigger,
		DebtRepaid:           totalRepaid,
		ResidualReturned:     residual,
		ShortfallOutstanding: new(big.Int).Set(pos.DebtOutstanding),
	}
	detail := map[string]any{
		"position_id":           pos.ID,
		"owner":                 pos.Owner.Hex(),
		"health_at_liquidation": healthAtTrigger,
		"debt_repaid":           totalRepaid.String(),
		"residual_returned":     residual.String(),
		"shortfall":             pos.DebtOutstanding.String(),
	}
	if err := l.audit.Log(ctx, domain.EventPositionLiquidated, detail); err != nil {
		l.logger.Warn("audit write failed", "event", domain.EventPositionLiquidated, "error", err)
	}
	if l.bus != nil {
		if payload, err := json.Marshal(map[string]any{"event": domain.EventPositionLiquidated, "detail": detail}); err == nil {
			if err := l.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
				l.logger.Warn("bus publish failed", "channel", domain.ChannelPositions, "error", err)
			}
		}
	}
	l.logger.Warn("liquidation finished",
		"position", pos.ID,
		"repaid", totalRepaid.String(),
		"residual", residual.String(),
		"shortfall", pos.DebtOutstanding.String())

	if unwindErr != nil {
		return report, fmt.Errorf("risk: liquidation unwind incomplete: %w", unwindErr)
	}
	return report, nil
}
