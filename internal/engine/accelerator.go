package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/yieldloop/loopd/internal/domain"
)

// FlashOpenParams are the parameters of a flash-accelerated open: the
// target leverage replaces a loop count, and the whole levered size is
// assembled in one flash-settled cycle.
type FlashOpenParams struct {
	Owner             common.Address
	Deposit           *big.Int
	TargetLeverageBps int64
}

// FlashOpen borrows deposit*(leverage-1) from the flash provider, splits
// and supplies the combined amount in one pass, and repays the provider out
// of a single venue borrow. A repayment shortfall voids the entire cycle.
func (e *Engine) FlashOpen(ctx context.Context, p FlashOpenParams) (OpenResult, error) {
	if err := e.gate.Check(); err != nil {
		return OpenResult{}, err
	}
	if p.Deposit == nil || p.Deposit.Sign() <= 0 {
		return OpenResult{}, fmt.Errorf("engine: deposit must be positive: %w", domain.ErrInvalidInput)
	}
	strat, err := e.activeStrategy(ctx)
	if err != nil {
		return OpenResult{}, err
	}
	if p.TargetLeverageBps <= 10_000 || p.TargetLeverageBps > strat.MaxLeverageBps {
		return OpenResult{}, fmt.Errorf("engine: target leverage %d outside (10000, %d]: %w",
			p.TargetLeverageBps, strat.MaxLeverageBps, domain.ErrInvalidInput)
	}
	flashAmount := mulBps(p.Deposit, p.TargetLeverageBps-10_000)
	if flashAmount.Sign() <= 0 {
		return OpenResult{}, fmt.Errorf("engine: deposit too small for leverage %d: %w",
			p.TargetLeverageBps, domain.ErrInvalidInput)
	}
	if err := e.checkVenues(ctx, strat); err != nil {
		return OpenResult{}, err
	}
	if e.pastMaturity(ctx) {
		return OpenResult{}, fmt.Errorf("engine: splitting market past maturity, opens disabled: %w", domain.ErrInvalidInput)
	}

	unlock, err := e.locks.Acquire(ctx, lockKey(p.Owner), e.cfg.LockTTL)
	if err != nil {
		return OpenResult{}, err
	}
	defer unlock()

	now := e.now().UTC()
	pos := domain.NewPosition(uuid.NewString(), p.Owner, strat.SplittingMarket, strat.LendingVenue,
		p.Deposit, p.TargetLeverageBps, strat.MinHealthRatio, now)
	if err := e.positions.Create(ctx, pos); err != nil {
		return OpenResult{}, fmt.Errorf("engine: create position record: %w", err)
	}

	j := newJournal(e.logger)
	deposit := new(big.Int).Set(p.Deposit)
	if err := e.treasury.Pull(ctx, p.Owner, strat.BaseAsset, deposit); err != nil {
		e.abortOpen(ctx, j, pos)
		return OpenResult{}, fmt.Errorf("engine: pull deposit: %w", err)
	}
	j.record("pull deposit", func(ctx context.Context) error {
		return e.treasury.Push(ctx, p.Owner, strat.BaseAsset, deposit)
	})

	err = e.flash.Flash(ctx, strat.BaseAsset, flashAmount, func(ctx context.Context, loan domain.FlashLoan) error {
		total := new(big.Int).Add(deposit, loan.Amount)
		res, err := e.splitWithFloor(ctx, strat, total, 0)
		if err != nil {
			return fmt.Errorf("split: %w", err)
		}
		if err := e.venue.Supply(ctx, strat.PrincipalClaim, res.Principal); err != nil {
			return fmt.Errorf("supply: %w", err)
		}

		owed := new(big.Int).Add(loan.Amount, loan.Fee)
		borrowed, err := e.venue.Borrow(ctx, strat.BaseAsset, owed)
		if err != nil {
			return fmt.Errorf("borrow: %w", err)
		}
		if borrowed.Cmp(owed) < 0 {
			return fmt.Errorf("borrow capacity %s short of %s owed: %w",
				borrowed, owed, domain.ErrFlashShortfall)
		}
		if err := e.flash.Repay(ctx, loan, owed); err != nil {
			return fmt.Errorf("repay provider: %w", err)
		}

		pos.CollateralDeposited.Set(res.Principal)
		pos.Claims.Yield.Set(res.Yield)
		pos.DebtOutstanding.Set(borrowed)
		pos.LoopsExecuted = 1
		return nil
	})
	if err != nil {
		e.abortOpen(ctx, j, pos)
		return OpenResult{}, fmt.Errorf("engine: flash open: %w", err)
	}

	health, err := e.guard.CheckAbove(ctx, strat.MinHealthRatio)
	if err != nil {
		// The flash cycle settled, so the position exists at the venue;
		// unwind it and return the proceeds rather than leaving a
		// position the caller never accepted.
		j.discard()
		if _, uerr := e.unwind(ctx, pos, strat); uerr != nil {
			e.logger.Error("unwind after failed health check failed", "position", pos.ID, "error", uerr)
		}
		return OpenResult{}, err
	}
	if err := e.positions.Update(ctx, pos); err != nil {
		return OpenResult{}, fmt.Errorf("engine: persist opened position: %w", err)
	}
	j.discard()

	e.emit(ctx, domain.ChannelPositions, domain.EventPositionOpened, map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"deposit":     pos.InitialDeposit.String(),
		"leverage":    pos.TargetLeverageBps,
		"collateral":  pos.CollateralDeposited.String(),
		"debt":        pos.DebtOutstanding.String(),
		"health":      health.HealthRatio,
		"accelerated": true,
	})
	e.logger.Info("position opened via flash",
		"position", pos.ID, "owner", pos.Owner.Hex(),
		"leverage", pos.TargetLeverageBps, "debt", pos.DebtOutstanding.String(),
		"health", health.HealthRatio)
	return OpenResult{Position: pos, Health: health}, nil
}

// FlashClose settles the whole debt with flashed base asset, releases all
// collateral in one withdrawal, and repays the provider from the redemption
// proceeds. Positions below minimum health are routed to liquidation, and
// debt-free positions fall back to the plain unwind.
func (e *Engine) FlashClose(ctx context.Context, owner common.Address) (CloseResult, error) {
	if err := e.gate.Check(); err != nil {
		return CloseResult{}, err
	}
	strat, err := e.strategy(ctx)
	if err != nil {
		return CloseResult{}, err
	}

	unlock, err := e.locks.Acquire(ctx, lockKey(owner), e.cfg.LockTTL)
	if err != nil {
		return CloseResult{}, err
	}
	defer unlock()

	pos, err := e.positions.GetActive(ctx, owner)
	if err != nil {
		return CloseResult{}, fmt.Errorf("engine: flash close: %w", err)
	}

	due, health, err := e.guard.LiquidationDue(ctx, pos)
	if err != nil {
		return CloseResult{}, err
	}
	if due {
		report, lerr := e.liquidator.Liquidate(ctx, pos, strat, health.HealthRatio)
		if lerr != nil {
			return CloseResult{}, lerr
		}
		closed, gerr := e.positions.GetByID(ctx, pos.ID)
		if gerr != nil {
			closed = pos
		}
		return CloseResult{
			Position:   closed,
			Returned:   report.ResidualReturned,
			NetProfit:  new(big.Int).Sub(report.ResidualReturned, pos.InitialDeposit),
			Liquidated: true,
		}, nil
	}
	if pos.DebtOutstanding.Sign() == 0 {
		return e.unwind(ctx, pos, strat)
	}

	matured := e.pastMaturity(ctx)
	debt := new(big.Int).Set(pos.DebtOutstanding)
	residual := big.NewInt(0)

	err = e.flash.Flash(ctx, strat.BaseAsset, debt, func(ctx context.Context, loan domain.FlashLoan) error {
		applied, err := e.venue.Repay(ctx, strat.BaseAsset, loan.Amount)
		if err != nil {
			return fmt.Errorf("repay venue: %w", err)
		}
		pos.DebtOutstanding.Sub(pos.DebtOutstanding, applied)

		withdrawn, err := e.venue.Withdraw(ctx, strat.PrincipalClaim, pos.CollateralDeposited)
		if err != nil {
			return fmt.Errorf("withdraw collateral: %w", err)
		}
		pos.CollateralDeposited.Sub(pos.CollateralDeposited, withdrawn)

		proceeds, err := e.convertPrincipal(ctx, &pos, strat, withdrawn, matured)
		if err != nil {
			return err
		}
		if pos.Claims.Yield.Sign() > 0 {
			if out, serr := e.swapper.SwapExact(ctx, strat.YieldClaim, strat.BaseAsset, pos.Claims.Yield, big.NewInt(0)); serr == nil {
				proceeds.Add(proceeds, out)
				pos.Claims.Yield = big.NewInt(0)
			}
		}

		owed := new(big.Int).Add(loan.Amount, loan.Fee)
		if proceeds.Cmp(owed) < 0 {
			return fmt.Errorf("proceeds %s short of %s owed: %w", proceeds, owed, domain.ErrFlashShortfall)
		}
		if err := e.flash.Repay(ctx, loan, owed); err != nil {
			return fmt.Errorf("repay provider: %w", err)
		}
		residual.Set(proceeds.Sub(proceeds, owed))
		return nil
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("engine: flash close: %w", err)
	}

	if residual.Sign() > 0 {
		if err := e.treasury.Push(ctx, pos.Owner, strat.BaseAsset, residual); err != nil {
			return CloseResult{}, fmt.Errorf("engine: return proceeds: %w", err)
		}
	}

	now := e.now().UTC()
	pos.State = domain.HealthStateClosed
	pos.IsActive = false
	pos.ClosedAt = &now
	if err := e.positions.Update(ctx, pos); err != nil {
		return CloseResult{}, fmt.Errorf("engine: persist closed position: %w", err)
	}

	netProfit := new(big.Int).Sub(residual, pos.InitialDeposit)
	e.emit(ctx, domain.ChannelPositions, domain.EventPositionClosed, map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"returned":    residual.String(),
		"net_profit":  netProfit.String(),
		"accelerated": true,
	})
	e.logger.Info("position closed via flash",
		"position", pos.ID, "owner", pos.Owner.Hex(),
		"returned", residual.String(), "net_profit", netProfit.String())
	return CloseResult{Position: pos, Returned: residual, NetProfit: netProfit}, nil
}
