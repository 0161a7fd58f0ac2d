package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/registry"
	"github.com/yieldloop/loopd/internal/risk"
)

// Gate blocks state-changing operations while the engine is paused.
type Gate interface {
	Check() error
}

// maxUnwindRounds bounds the withdraw/redeem/repay cycle during close.
const maxUnwindRounds = 2 * domain.MaxLoops

// Config carries the executor's behavioural parameters.
type Config struct {
	MaxLoops int
	LockTTL  time.Duration
}

// Engine drives the position lifecycle against the configured venues.
type Engine struct {
	cfg        Config
	positions  domain.PositionStore
	strategies domain.StrategyConfigStore
	registry   *registry.Service
	market     domain.SplittingMarket
	venue      domain.LendingVenue
	swapper    domain.SwapVenue
	flash      domain.FlashLoanProvider
	treasury   domain.Treasury
	guard      *risk.Guard
	liquidator *risk.Liquidator
	locks      domain.LockManager
	audit      domain.AuditStore
	bus        domain.SignalBus
	gate       Gate
	logger     *slog.Logger
	now        func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Positions  domain.PositionStore
	Strategies domain.StrategyConfigStore
	Registry   *registry.Service
	Market     domain.SplittingMarket
	Venue      domain.LendingVenue
	Swapper    domain.SwapVenue
	Flash      domain.FlashLoanProvider
	Treasury   domain.Treasury
	Guard      *risk.Guard
	Liquidator *risk.Liquidator
	Locks      domain.LockManager
	Audit      domain.AuditStore
	Bus        domain.SignalBus
	Gate       Gate
	Logger     *slog.Logger
	Now        func() time.Time // defaults to time.Now
}

func New(cfg Config, d Deps) *Engine {
	if cfg.MaxLoops <= 0 || cfg.MaxLoops > domain.MaxLoops {
		cfg.MaxLoops = domain.MaxLoops
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		positions:  d.Positions,
		strategies: d.Strategies,
		registry:   d.Registry,
		market:     d.Market,
		venue:      d.Venue,
		swapper:    d.Swapper,
		flash:      d.Flash,
		treasury:   d.Treasury,
		guard:      d.Guard,
		liquidator: d.Liquidator,
		locks:      d.Locks,
		audit:      d.Audit,
		bus:        d.Bus,
		gate:       d.Gate,
		logger:     d.Logger.With("component", "engine"),
		now:        d.Now,
	}
}

// OpenParams are the caller-supplied parameters of a looped open.
type OpenParams struct {
	Owner   common.Address
	Deposit *big.Int
	Loops   int
}

// OpenResult reports the ledger state after a successful open.
type OpenResult struct {
	Position domain.Position
	Health   domain.AccountHealth
}

// Open pulls the deposit, splits it, posts the principal claims as
// collateral, then runs borrow/split/supply cycles. Parameter validation
// happens before any funds move; a failure after funds moved compensates
// every executed step and removes the ledger pre-image.
func (e *Engine) Open(ctx context.Context, p OpenParams) (OpenResult, error) {
	if err := e.gate.Check(); err != nil {
		return OpenResult{}, err
	}
	if p.Deposit == nil || p.Deposit.Sign() <= 0 {
		return OpenResult{}, fmt.Errorf("engine: deposit must be positive: %w", domain.ErrInvalidInput)
	}
	if p.Loops < 1 || p.Loops > e.cfg.MaxLoops {
		return OpenResult{}, fmt.Errorf("engine: loops must be 1-%d, got %d: %w",
			e.cfg.MaxLoops, p.Loops, domain.ErrInvalidInput)
	}
	strat, err := e.activeStrategy(ctx)
	if err != nil {
		return OpenResult{}, err
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
		p.Deposit, leverageForLoops(p.Loops, strat.TargetLTVBps), strat.MinHealthRatio, now)
	if err := e.positions.Create(ctx, pos); err != nil {
		return OpenResult{}, fmt.Errorf("engine: create position record: %w", err)
	}

	j := newJournal(e.logger)
	result, err := e.openLoops(ctx, j, &pos, strat, p)
	if err != nil {
		e.abortOpen(ctx, j, pos)
		return OpenResult{}, err
	}
	j.discard()
	return result, nil
}

func (e *Engine) openLoops(ctx context.Context, j *journal, pos *domain.Position, strat domain.StrategyConfig, p OpenParams) (OpenResult, error) {
	deposit := new(big.Int).Set(p.Deposit)
	if err := e.treasury.Pull(ctx, p.Owner, strat.BaseAsset, deposit); err != nil {
		return OpenResult{}, fmt.Errorf("engine: pull deposit: %w", err)
	}
	j.record("pull deposit", func(ctx context.Context) error {
		return e.treasury.Push(ctx, p.Owner, strat.BaseAsset, deposit)
	})

	// Loop 1 splits and supplies the deposit itself; each further loop
	// borrows against what the previous loop supplied.
	splitBase := deposit
	for i := 0; i < p.Loops; i++ {
		if i > 0 {
			want := mulBps(splitBase, strat.TargetLTVBps)
			borrowed, err := e.venue.Borrow(ctx, strat.BaseAsset, want)
			if err != nil {
				return OpenResult{}, fmt.Errorf("engine: loop %d borrow: %w", i+1, err)
			}
			if borrowed.Sign() == 0 {
				e.logger.Info("borrow capacity exhausted, stopping early",
					"position", pos.ID, "loops_executed", pos.LoopsExecuted)
				break
			}
			amt := new(big.Int).Set(borrowed)
			j.record(fmt.Sprintf("loop %d borrow", i+1), func(ctx context.Context) error {
				_, err := e.venue.Repay(ctx, strat.BaseAsset, amt)
				return err
			})
			pos.DebtOutstanding.Add(pos.DebtOutstanding, borrowed)
			splitBase = borrowed
		}

		res, err := e.splitWithFloor(ctx, strat, splitBase, i)
		if err != nil {
			return OpenResult{}, fmt.Errorf("engine: loop %d split: %w", i+1, err)
		}
		principal := new(big.Int).Set(res.Principal)
		yield := new(big.Int).Set(res.Yield)
		j.record(fmt.Sprintf("loop %d split", i+1), func(ctx context.Context) error {
			_, err := e.market.RedeemPair(ctx, principal, yield)
			return err
		})

		if err := e.venue.Supply(ctx, strat.PrincipalClaim, res.Principal); err != nil {
			return OpenResult{}, fmt.Errorf("engine: loop %d supply: %w", i+1, err)
		}
		j.record(fmt.Sprintf("loop %d supply", i+1), func(ctx context.Context) error {
			_, err := e.venue.Withdraw(ctx, strat.PrincipalClaim, principal)
			return err
		})

		pos.CollateralDeposited.Add(pos.CollateralDeposited, res.Principal)
		pos.Claims.Yield.Add(pos.Claims.Yield, res.Yield)
		pos.LoopsExecuted = i + 1

		e.emit(ctx, domain.ChannelLoops, domain.EventLoopExecuted, map[string]any{
			"position_id": pos.ID,
			"loop":        pos.LoopsExecuted,
			"supplied":    res.Principal.String(),
			"debt":        pos.DebtOutstanding.String(),
		})
	}

	health, err := e.guard.CheckAbove(ctx, strat.MinHealthRatio)
	if err != nil {
		return OpenResult{}, err
	}
	if err := e.positions.Update(ctx, *pos); err != nil {
		return OpenResult{}, fmt.Errorf("engine: persist opened position: %w", err)
	}

	e.emit(ctx, domain.ChannelPositions, domain.EventPositionOpened, map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"deposit":     pos.InitialDeposit.String(),
		"loops":       pos.LoopsExecuted,
		"collateral":  pos.CollateralDeposited.String(),
		"debt":        pos.DebtOutstanding.String(),
		"health":      health.HealthRatio,
	})
	e.logger.Info("position opened",
		"position", pos.ID, "owner", pos.Owner.Hex(),
		"loops", pos.LoopsExecuted, "debt", pos.DebtOutstanding.String(),
		"health", health.HealthRatio)
	return OpenResult{Position: *pos, Health: health}, nil
}

// abortOpen compensates executed steps and removes the ledger pre-image.
func (e *Engine) abortOpen(ctx context.Context, j *journal, pos domain.Position) {
	if err := j.compensate(ctx); err != nil {
		e.logger.Error("open compensation incomplete", "position", pos.ID, "error", err)
	}
	now := e.now().UTC()
	pos.State = domain.HealthStateClosed
	pos.IsActive = false
	pos.ClosedAt = &now
	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.Error("failed to retire aborted position", "position", pos.ID, "error", err)
		return
	}
	if err := e.positions.Delete(ctx, pos.ID); err != nil {
		e.logger.Warn("failed to delete aborted position", "position", pos.ID, "error", err)
	}
}

// CloseResult reports the outcome of a close. Liquidated is set when the
// health check routed the call into the liquidation path instead.
type CloseResult struct {
	Position   domain.Position
	Returned   *big.Int
	NetProfit  *big.Int // Returned minus the initial deposit; negative is a loss
	Liquidated bool
}

// Close unwinds the owner's active position and returns the proceeds. A
// position already below its minimum health is routed to liquidation and
// reported as such, never as an error.
func (e *Engine) Close(ctx context.Context, owner common.Address) (CloseResult, error) {
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
		return CloseResult{}, fmt.Errorf("engine: close: %w", err)
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

	return e.unwind(ctx, pos, strat)
}

// unwind repays debt by withdrawing freed collateral and redeeming it, then
// liquidates the remainder of the position into base asset for the owner.
func (e *Engine) unwind(ctx context.Context, pos domain.Position, strat domain.StrategyConfig) (CloseResult, error) {
	matured := e.pastMaturity(ctx)
	proceeds := big.NewInt(0)

	for round := 0; round < maxUnwindRounds; round++ {
		if pos.DebtOutstanding.Sign() == 0 && pos.CollateralDeposited.Sign() == 0 {
			break
		}
		want := new(big.Int).Set(pos.CollateralDeposited)
		if pos.DebtOutstanding.Sign() > 0 {
			free, err := e.venue.MaxWithdrawable(ctx, strat.PrincipalClaim)
			if err != nil {
				return CloseResult{}, fmt.Errorf("engine: unwind max withdrawable: %w", err)
			}
			if free.Sign() == 0 {
				return CloseResult{}, fmt.Errorf("engine: unwind stalled with debt %s outstanding: %w",
					pos.DebtOutstanding, domain.ErrVenueCall)
			}
			want = free
		}
		withdrawn, err := e.venue.Withdraw(ctx, strat.PrincipalClaim, want)
		if err != nil {
			return CloseResult{}, fmt.Errorf("engine: unwind withdraw: %w", err)
		}
		if withdrawn.Sign() == 0 {
			break
		}
		pos.CollateralDeposited.Sub(pos.CollateralDeposited, withdrawn)

		out, err := e.convertPrincipal(ctx, &pos, strat, withdrawn, matured)
		if err != nil {
			return CloseResult{}, err
		}
		proceeds.Add(proceeds, out)

		if pos.DebtOutstanding.Sign() > 0 && proceeds.Sign() > 0 {
			want := new(big.Int).Set(proceeds)
			if want.Cmp(pos.DebtOutstanding) > 0 {
				want.Set(pos.DebtOutstanding)
			}
			applied, err := e.venue.Repay(ctx, strat.BaseAsset, want)
			if err != nil {
				return CloseResult{}, fmt.Errorf("engine: unwind repay: %w", err)
			}
			pos.DebtOutstanding.Sub(pos.DebtOutstanding, applied)
			proceeds.Sub(proceeds, applied)
		}
		if err := e.positions.Update(ctx, pos); err != nil {
			return CloseResult{}, fmt.Errorf("engine: persist unwind progress: %w", err)
		}
	}
	if pos.DebtOutstanding.Sign() > 0 {
		return CloseResult{}, fmt.Errorf("engine: debt %s remains after unwind: %w",
			pos.DebtOutstanding, domain.ErrVenueCall)
	}

	// Excess yield claims are the position's earnings; sell them.
	if pos.Claims.Yield.Sign() > 0 {
		out, err := e.swapper.SwapExact(ctx, strat.YieldClaim, strat.BaseAsset, pos.Claims.Yield, big.NewInt(0))
		if err != nil {
			e.logger.Warn("yield claim sale failed during close", "position", pos.ID, "error", err)
		} else {
			proceeds.Add(proceeds, out)
			pos.Claims.Yield = big.NewInt(0)
		}
	}

	if proceeds.Sign() > 0 {
		if err := e.treasury.Push(ctx, pos.Owner, strat.BaseAsset, proceeds); err != nil {
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

	netProfit := new(big.Int).Sub(proceeds, pos.InitialDeposit)
	e.emit(ctx, domain.ChannelPositions, domain.EventPositionClosed, map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"returned":    proceeds.String(),
		"net_profit":  netProfit.String(),
	})
	e.logger.Info("position closed",
		"position", pos.ID, "owner", pos.Owner.Hex(),
		"returned", proceeds.String(), "net_profit", netProfit.String())
	return CloseResult{Position: pos, Returned: proceeds, NetProfit: netProfit}, nil
}

// convertPrincipal turns withdrawn principal claims into base asset. After
// maturity they redeem 1:1; before it they are paired with held yield claims
// and any unmatched remainder is sold.
func (e *Engine) convertPrincipal(ctx context.Context, pos *domain.Position, strat domain.StrategyConfig, amount *big.Int, matured bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if matured {
		out, err := e.market.RedeemPrincipal(ctx, amount)
		if err != nil {
			return nil, fmt.Errorf("engine: redeem principal: %w", err)
		}
		return out, nil
	}

	total := big.NewInt(0)
	matched := new(big.Int).Set(amount)
	if pos.Claims.Yield.Cmp(matched) < 0 {
		matched.Set(pos.Claims.Yield)
	}
	if matched.Sign() > 0 {
		out, err := e.market.RedeemPair(ctx, matched, matched)
		if err != nil {
			return nil, fmt.Errorf("engine: redeem pair: %w", err)
		}
		pos.Claims.Yield.Sub(pos.Claims.Yield, matched)
		total.Add(total, out)
	}
	leftover := new(big.Int).Sub(amount, matched)
	if leftover.Sign() > 0 {
		out, err := e.swapper.SwapExact(ctx, strat.PrincipalClaim, strat.BaseAsset, leftover, big.NewInt(0))
		if err != nil {
			return nil, fmt.Errorf("engine: sell unmatched principal: %w", err)
		}
		total.Add(total, out)
	}
	return total, nil
}

// RebalanceResult reports the adjustment made.
type RebalanceResult struct {
	Position domain.Position
	Health   domain.AccountHealth
	Action   string // "deleveraged", "releveraged", or "none"
}

// Rebalance moves the position back toward the strategy's target LTV.
// Health is re-read from the venue after every external call so each round
// acts on fresh numbers.
func (e *Engine) Rebalance(ctx context.Context, owner common.Address) (RebalanceResult, error) {
	if err := e.gate.Check(); err != nil {
		return RebalanceResult{}, err
	}
	strat, err := e.activeStrategy(ctx)
	if err != nil {
		return RebalanceResult{}, err
	}

	unlock, err := e.locks.Acquire(ctx, lockKey(owner), e.cfg.LockTTL)
	if err != nil {
		return RebalanceResult{}, err
	}
	defer unlock()

	pos, err := e.positions.GetActive(ctx, owner)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("engine: rebalance: %w", err)
	}

	health, err := e.guard.CurrentHealth(ctx)
	if err != nil {
		return RebalanceResult{}, err
	}
	// Target ratio is the inverse of target LTV.
	target := 10_000.0 / float64(strat.TargetLTVBps)

	action := "none"
	switch {
	case health.HealthRatio < target:
		health, err = e.delever(ctx, &pos, strat, target)
		if err != nil {
			return RebalanceResult{}, err
		}
		action = "deleveraged"
	case health.HealthRatio > target && pos.LoopsExecuted < e.cfg.MaxLoops:
		health, err = e.relever(ctx, &pos, strat, health)
		if err != nil {
			return RebalanceResult{}, err
		}
		action = "releveraged"
	}

	pos.LastRebalancedAt = e.now().UTC()
	if err := e.positions.Update(ctx, pos); err != nil {
		return RebalanceResult{}, fmt.Errorf("engine: persist rebalanced position: %w", err)
	}

	e.emit(ctx, domain.ChannelPositions, domain.EventPositionRebalanced, map[string]any{
		"position_id": pos.ID,
		"owner":       pos.Owner.Hex(),
		"action":      action,
		"health":      health.HealthRatio,
	})
	e.logger.Info("position rebalanced",
		"position", pos.ID, "action", action, "health", health.HealthRatio)
	return RebalanceResult{Position: pos, Health: health, Action: action}, nil
}

// delever withdraws freed collateral, converts it, and repays until the
// health ratio recovers to target.
func (e *Engine) delever(ctx context.Context, pos *domain.Position, strat domain.StrategyConfig, target float64) (domain.AccountHealth, error) {
	matured := e.pastMaturity(ctx)
	var health domain.AccountHealth
	for round := 0; round < maxUnwindRounds; round++ {
		var err error
		health, err = e.guard.CurrentHealth(ctx)
		if err != nil {
			return domain.AccountHealth{}, err
		}
		if health.HealthRatio >= target || pos.DebtOutstanding.Sign() == 0 {
			return health, nil
		}
		free, err := e.venue.MaxWithdrawable(ctx, strat.PrincipalClaim)
		if err != nil {
			return domain.AccountHealth{}, fmt.Errorf("engine: delever max withdrawable: %w", err)
		}
		if free.Sign() == 0 {
			return health, nil
		}
		withdrawn, err := e.venue.Withdraw(ctx, strat.PrincipalClaim, free)
		if err != nil {
			return domain.AccountHealth{}, fmt.Errorf("engine: delever withdraw: %w", err)
		}
		pos.CollateralDeposited.Sub(pos.CollateralDeposited, withdrawn)
		out, err := e.convertPrincipal(ctx, pos, strat, withdrawn, matured)
		if err != nil {
			return domain.AccountHealth{}, err
		}
		if out.Cmp(pos.DebtOutstanding) > 0 {
			out.Set(pos.DebtOutstanding)
		}
		applied, err := e.venue.Repay(ctx, strat.BaseAsset, out)
		if err != nil {
			return domain.AccountHealth{}, fmt.Errorf("engine: delever repay: %w", err)
		}
		pos.DebtOutstanding.Sub(pos.DebtOutstanding, applied)
		if err := e.positions.Update(ctx, *pos); err != nil {
			return domain.AccountHealth{}, fmt.Errorf("engine: persist delever progress: %w", err)
		}
	}
	return health, nil
}

// relever borrows up to the target LTV and runs one more split/supply
// cycle.
func (e *Engine) relever(ctx context.Context, pos *domain.Position, strat domain.StrategyConfig, health domain.AccountHealth) (domain.AccountHealth, error) {
	capacity := new(big.Int).Sub(mulBps(health.CollateralValue, strat.TargetLTVBps), health.DebtValue)
	if capacity.Sign() <= 0 {
		return health, nil
	}
	borrowed, err := e.venue.Borrow(ctx, strat.BaseAsset, capacity)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("engine: relever borrow: %w", err)
	}
	if borrowed.Sign() == 0 {
		return health, nil
	}
	pos.DebtOutstanding.Add(pos.DebtOutstanding, borrowed)

	res, err := e.splitWithFloor(ctx, strat, borrowed, pos.LoopsExecuted)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("engine: relever split: %w", err)
	}
	if err := e.venue.Supply(ctx, strat.PrincipalClaim, res.Principal); err != nil {
		return domain.AccountHealth{}, fmt.Errorf("engine: relever supply: %w", err)
	}
	pos.CollateralDeposited.Add(pos.CollateralDeposited, res.Principal)
	pos.Claims.Yield.Add(pos.Claims.Yield, res.Yield)
	pos.LoopsExecuted++

	return e.guard.CurrentHealth(ctx)
}

// splitWithFloor splits amount with the loop-indexed slippage floor: the
// configured floor on the first loop, decaying by SlippageDecayBps for each
// loop after it.
func (e *Engine) splitWithFloor(ctx context.Context, strat domain.StrategyConfig, amount *big.Int, loopIndex int) (domain.SplitResult, error) {
	quote, err := e.market.QuoteSplit(ctx, amount)
	if err != nil {
		return domain.SplitResult{}, fmt.Errorf("engine: quote split: %w", err)
	}
	floorBps := strat.SlippageFloorBps - int64(loopIndex)*strat.SlippageDecayBps
	if floorBps < 0 {
		floorBps = 0
	}
	floor := mulBps(quote, floorBps)
	return e.market.Split(ctx, amount, floor)
}

func (e *Engine) pastMaturity(ctx context.Context) bool {
	maturity, err := e.market.Maturity(ctx)
	if err != nil {
		e.logger.Warn("maturity lookup failed", "error", err)
		return false
	}
	return !e.now().Before(maturity)
}

func (e *Engine) strategy(ctx context.Context) (domain.StrategyConfig, error) {
	strat, err := e.strategies.Get(ctx)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("engine: load strategy: %w", err)
	}
	return strat, nil
}

// activeStrategy loads the strategy and requires it to be populated and
// active.
func (e *Engine) activeStrategy(ctx context.Context) (domain.StrategyConfig, error) {
	strat, err := e.strategy(ctx)
	if err != nil {
		return domain.StrategyConfig{}, err
	}
	if !strat.Populated() || !strat.Active {
		return domain.StrategyConfig{}, fmt.Errorf("engine: %w", domain.ErrStrategyInactive)
	}
	return strat, nil
}

// checkVenues verifies the registry approves every address this operation
// will touch.
func (e *Engine) checkVenues(ctx context.Context, strat domain.StrategyConfig) error {
	if err := e.registry.Require(ctx, domain.CategorySplittingMarket, strat.SplittingMarket); err != nil {
		return err
	}
	return e.registry.Require(ctx, domain.CategorySwapRouter, strat.SwapRouter)
}

func (e *Engine) emit(ctx context.Context, channel, event string, detail map[string]any) {
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit write failed", "event", event, "error", err)
	}
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"event": event, "detail": detail})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("bus publish failed", "channel", channel, "error", err)
	}
}

func lockKey(owner common.Address) string {
	return owner.Hex()
}

// leverageForLoops is the nominal leverage in bps reached by running loops
// borrow cycles at ltvBps: sum of ltv^i for i in [0, loops).
func leverageForLoops(loops int, ltvBps int64) int64 {
	lev := int64(0)
	term := int64(10_000)
	for i := 0; i < loops; i++ {
		lev += term
		term = term * ltvBps / 10_000
	}
	return lev
}

// mulBps returns v*bps/10000 rounded down.
func mulBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Quo(out, big.NewInt(10_000))
}
