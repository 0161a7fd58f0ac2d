package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/yieldloop/loopd/internal/domain"
)

// Estimate projects the ledger state a looped open would reach, using the
// market's current quote and the strategy's target LTV. Nothing is executed
// and no funds move.
type Estimate struct {
	Deposit             *big.Int `json:"deposit"`
	Loops               int      `json:"loops"`
	ProjectedCollateral *big.Int `json:"projected_collateral"`
	ProjectedDebt       *big.Int `json:"projected_debt"`
	ProjectedYield      *big.Int `json:"projected_yield_claims"`
	LeverageBps         int64    `json:"leverage_bps"`
	ProjectedHealth     float64  `json:"projected_health"`
}

// EstimateOpen runs the loop arithmetic against live quotes.
func (e *Engine) EstimateOpen(ctx context.Context, deposit *big.Int, loops int) (Estimate, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return Estimate{}, fmt.Errorf("engine: deposit must be positive: %w", domain.ErrInvalidInput)
	}
	if loops < 1 || loops > e.cfg.MaxLoops {
		return Estimate{}, fmt.Errorf("engine: loops must be 1-%d, got %d: %w",
			e.cfg.MaxLoops, loops, domain.ErrInvalidInput)
	}
	strat, err := e.activeStrategy(ctx)
	if err != nil {
		return Estimate{}, err
	}

	collateral := big.NewInt(0)
	debt := big.NewInt(0)
	yield := big.NewInt(0)
	splitBase := new(big.Int).Set(deposit)
	for i := 0; i < loops; i++ {
		if i > 0 {
			borrow := mulBps(splitBase, strat.TargetLTVBps)
			if borrow.Sign() == 0 {
				break
			}
			debt.Add(debt, borrow)
			splitBase = borrow
		}
		quote, err := e.market.QuoteSplit(ctx, splitBase)
		if err != nil {
			return Estimate{}, fmt.Errorf("engine: estimate quote: %w", err)
		}
		collateral.Add(collateral, quote)
		yield.Add(yield, quote)
	}

	health := domain.HealthInfinity
	if debt.Sign() > 0 {
		c, _ := new(big.Float).SetInt(collateral).Float64()
		d, _ := new(big.Float).SetInt(debt).Float64()
		health = c / d
	}
	return Estimate{
		Deposit:             new(big.Int).Set(deposit),
		Loops:               loops,
		ProjectedCollateral: collateral,
		ProjectedDebt:       debt,
		ProjectedYield:      yield,
		LeverageBps:         leverageForLoops(loops, strat.TargetLTVBps),
		ProjectedHealth:     health,
	}, nil
}
