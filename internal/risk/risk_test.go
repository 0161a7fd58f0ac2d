package risk

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/store/memstore"
	"github.com/yieldloop/loopd/internal/venue/venuesim"
)

var (
	riskOwner  = common.BigToAddress(big.NewInt(0xA0))
	riskBase   = common.BigToAddress(big.NewInt(0x01))
	riskPT     = common.BigToAddress(big.NewInt(0x02))
	riskYT     = common.BigToAddress(big.NewInt(0x03))
	riskMarket = common.BigToAddress(big.NewInt(0x04))
	riskRouter = common.BigToAddress(big.NewInt(0x05))
)

func riskLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func riskStrategy() domain.StrategyConfig {
	return domain.StrategyConfig{
		BaseAsset:       riskBase,
		PrincipalClaim:  riskPT,
		YieldClaim:      riskYT,
		SplittingMarket: riskMarket,
		SwapRouter:      riskRouter,
		LendingVenue:    "aave",
		MaxLeverageBps:  50_000,
		MinHealthRatio:  1.05,
		TargetLTVBps:    8_000,
		Active:          true,
	}
}

type riskFixture struct {
	bank      *venuesim.Bank
	market    *venuesim.SplitMarket
	venue     *venuesim.LendingVenue
	swap      *venuesim.Swap
	positions *memstore.PositionStore
	audit     *memstore.AuditStore
	cache     *memstore.HealthCache
	guard     *Guard
	liq       *Liquidator
}

// newRiskFixture builds a venue account holding collateral PT units against
// debt base units, with yield claim tokens sitting in engine custody the way
// an open position leaves them.
func newRiskFixture(t *testing.T, collateral, debt, yield int64, maturity time.Time) *riskFixture {
	t.Helper()
	ctx := context.Background()

	bank := venuesim.NewBank()
	market := venuesim.NewSplitMarket(bank, venuesim.SplitMarketConfig{
		Market:    riskMarket,
		Base:      riskBase,
		Principal: riskPT,
		Yield:     riskYT,
		Maturity:  maturity,
	})
	venue := venuesim.NewLendingVenue(bank, venuesim.LendingConfig{
		Name:       "aave",
		Collateral: riskPT,
		DebtToken:  riskBase,
		LTVBps:     8_000,
	})
	swap := venuesim.NewSwap(bank, riskRouter)
	swap.SetRate(riskYT, riskBase, 500)
	swap.SetRate(riskPT, riskBase, 9_500)

	bank.Credit(riskPT, big.NewInt(collateral))
	require.NoError(t, venue.Supply(ctx, riskPT, big.NewInt(collateral)))
	if debt > 0 {
		got, err := venue.Borrow(ctx, riskBase, big.NewInt(debt))
		require.NoError(t, err)
		require.Equal(t, debt, got.Int64())
		// The borrowed base was spent on further loops.
		require.NoError(t, bank.Debit(riskBase, big.NewInt(debt)))
	}
	if yield > 0 {
		bank.Credit(riskYT, big.NewInt(yield))
	}

	positions := memstore.NewPositionStore()
	audit := memstore.NewAuditStore()
	cache := memstore.NewHealthCache()
	logger := riskLogger()

	return &riskFixture{
		bank:      bank,
		market:    market,
		venue:     venue,
		swap:      swap,
		positions: positions,
		audit:     audit,
		cache:     cache,
		guard:     NewGuard(venue, cache, logger),
		liq: NewLiquidator(positions, market, venue, swap,
			venuesim.NewTreasury(bank), audit, memstore.NewSignalBus(), logger),
	}
}

func (f *riskFixture) seedPosition(t *testing.T, collateral, debt, yield int64) domain.Position {
	t.Helper()
	pos := domain.NewPosition("pos-1", riskOwner, riskMarket, "aave",
		big.NewInt(100), 20_000, 1.05, time.Now().UTC())
	pos.CollateralDeposited = big.NewInt(collateral)
	pos.DebtOutstanding = big.NewInt(debt)
	pos.Claims.Yield = big.NewInt(yield)
	pos.LoopsExecuted = 2
	require.NoError(t, f.positions.Create(context.Background(), pos))
	return pos
}

func TestGuardCurrentHealthRefreshesCache(t *testing.T) {
	f := newRiskFixture(t, 100, 40, 0, time.Now().Add(time.Hour))
	ctx := context.Background()

	health, err := f.guard.CurrentHealth(ctx)
	require.NoError(t, err)
	require.InDelta(t, 2.5, health.HealthRatio, 1e-9)

	cached, ts, err := f.cache.Get(ctx, "aave")
	require.NoError(t, err)
	require.InDelta(t, health.HealthRatio, cached.HealthRatio, 1e-9)
	require.False(t, ts.IsZero())
}

func TestGuardCheckAbove(t *testing.T) {
	f := newRiskFixture(t, 100, 40, 0, time.Now().Add(time.Hour))
	ctx := context.Background()

	_, err := f.guard.CheckAbove(ctx, 2.0)
	require.NoError(t, err)

	// Exactly at the minimum passes; only strictly below fails.
	_, err = f.guard.CheckAbove(ctx, 2.5)
	require.NoError(t, err)

	_, err = f.guard.CheckAbove(ctx, 3.0)
	require.ErrorIs(t, err, domain.ErrHealthTooLow)
}

func TestGuardLiquidationDue(t *testing.T) {
	f := newRiskFixture(t, 100, 40, 0, time.Now().Add(time.Hour))
	pos := f.seedPosition(t, 100, 40, 0)
	ctx := context.Background()

	due, _, err := f.guard.LiquidationDue(ctx, pos)
	require.NoError(t, err)
	require.False(t, due)

	f.venue.SetPriceBps(4_000) // health 40/40 = 1.0
	due, health, err := f.guard.LiquidationDue(ctx, pos)
	require.NoError(t, err)
	require.True(t, due)
	require.InDelta(t, 1.0, health.HealthRatio, 1e-9)
}

func TestLiquidateFullRecovery(t *testing.T) {
	f := newRiskFixture(t, 100, 40, 100, time.Now().Add(time.Hour))
	pos := f.seedPosition(t, 100, 40, 100)
	ctx := context.Background()

	report, err := f.liq.Liquidate(ctx, pos, riskStrategy(), 1.02)
	require.NoError(t, err)

	// Yield sale covers 5, principal sales at 95% cover the rest.
	require.Equal(t, int64(40), report.DebtRepaid.Int64())
	require.Equal(t, int64(59), report.ResidualReturned.Int64())
	require.Equal(t, int64(0), report.ShortfallOutstanding.Int64())
	require.InDelta(t, 1.02, report.HealthAtLiquidation, 1e-9)

	require.Equal(t, int64(59), f.bank.OwnerBalance(riskOwner, riskBase).Int64())

	closed, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStateClosed, closed.State)
	require.False(t, closed.IsActive)
	require.NotNil(t, closed.ClosedAt)
}

func TestLiquidateWithShortfall(t *testing.T) {
	f := newRiskFixture(t, 100, 70, 100, time.Now().Add(time.Hour))
	pos := f.seedPosition(t, 100, 70, 100)
	ctx := context.Background()

	// Collateral reprices to half: the venue frees nothing while the debt
	// sits over its LTV cap.
	f.venue.SetPriceBps(5_000)

	report, err := f.liq.Liquidate(ctx, pos, riskStrategy(), 0.71)
	require.NoError(t, err)

	require.Equal(t, int64(5), report.DebtRepaid.Int64())
	require.Equal(t, int64(0), report.ResidualReturned.Int64())
	require.Equal(t, int64(65), report.ShortfallOutstanding.Int64())

	closed, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStateClosed, closed.State)
	require.Equal(t, int64(65), closed.DebtOutstanding.Int64())

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.EventPositionLiquidated, entries[0].Event)
}

func TestLiquidateAfterMaturityRedeemsPrincipal(t *testing.T) {
	f := newRiskFixture(t, 100, 40, 0, time.Now().Add(-time.Hour))
	pos := f.seedPosition(t, 100, 40, 0)
	ctx := context.Background()

	report, err := f.liq.Liquidate(ctx, pos, riskStrategy(), 1.0)
	require.NoError(t, err)

	// 1:1 redemption leaves no sale haircut: 100 redeemed minus 40 debt.
	require.Equal(t, int64(40), report.DebtRepaid.Int64())
	require.Equal(t, int64(60), report.ResidualReturned.Int64())
	require.Equal(t, int64(0), report.ShortfallOutstanding.Int64())
	require.Equal(t, int64(60), f.bank.OwnerBalance(riskOwner, riskBase).Int64())
}
