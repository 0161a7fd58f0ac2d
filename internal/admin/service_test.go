package admin

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
	"github.com/yieldloop/loopd/internal/ledger"
	"github.com/yieldloop/loopd/internal/registry"
	"github.com/yieldloop/loopd/internal/store/memstore"
	"github.com/yieldloop/loopd/internal/venue/venuesim"
)

var (
	adminBase   = common.BigToAddress(big.NewInt(0x01))
	adminPT     = common.BigToAddress(big.NewInt(0x02))
	adminYT     = common.BigToAddress(big.NewInt(0x03))
	adminMarket = common.BigToAddress(big.NewInt(0x04))
	adminRouter = common.BigToAddress(big.NewInt(0x05))
	recovery    = common.BigToAddress(big.NewInt(0xF0))
)

type adminFixture struct {
	svc        *Service
	bank       *venuesim.Bank
	positions  *memstore.PositionStore
	strategies *memstore.StrategyConfigStore
	audit      *memstore.AuditStore
}

func validStrategy() domain.StrategyConfig {
	return domain.StrategyConfig{
		BaseAsset:        adminBase,
		PrincipalClaim:   adminPT,
		YieldClaim:       adminYT,
		SplittingMarket:  adminMarket,
		SwapRouter:       adminRouter,
		LendingVenue:     "aave",
		MaxLeverageBps:   50_000,
		MinHealthRatio:   1.05,
		TargetLTVBps:     8_000,
		SlippageFloorBps: 9_900,
		SlippageDecayBps: 50,
		Active:           true,
	}
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bank := venuesim.NewBank()
	positions := memstore.NewPositionStore()
	strategies := memstore.NewStrategyConfigStore()
	audit := memstore.NewAuditStore()
	bus := memstore.NewSignalBus()
	reg := registry.NewService(memstore.NewRegistryStore(), audit, bus, logger)
	led := ledger.NewService(positions)

	require.NoError(t, strategies.Put(context.Background(), validStrategy()))

	svc := NewService(strategies, reg, led, venuesim.NewTreasury(bank), audit, bus, logger)
	return &adminFixture{svc: svc, bank: bank, positions: positions, strategies: strategies, audit: audit}
}

func TestPauseResume(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Check())
	require.False(t, f.svc.Paused())

	f.svc.Pause(ctx, "ops")
	require.True(t, f.svc.Paused())
	require.ErrorIs(t, f.svc.Check(), domain.ErrPaused)

	// Repeat pauses do not duplicate audit entries.
	f.svc.Pause(ctx, "ops")

	f.svc.Resume(ctx, "ops")
	require.NoError(t, f.svc.Check())

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, domain.EventEmergencyAction, e.Event)
	}
}

func TestUpdateStrategyValidation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	incomplete := validStrategy()
	incomplete.SwapRouter = common.Address{}
	require.ErrorIs(t, f.svc.UpdateStrategy(ctx, incomplete, "ops"), domain.ErrInvalidInput)

	// An incomplete strategy can still be stored while inactive.
	incomplete.Active = false
	require.NoError(t, f.svc.UpdateStrategy(ctx, incomplete, "ops"))

	badLTV := validStrategy()
	badLTV.TargetLTVBps = 10_000
	require.ErrorIs(t, f.svc.UpdateStrategy(ctx, badLTV, "ops"), domain.ErrInvalidInput)

	badSlippage := validStrategy()
	badSlippage.SlippageFloorBps = 10_001
	require.ErrorIs(t, f.svc.UpdateStrategy(ctx, badSlippage, "ops"), domain.ErrInvalidInput)
}

func TestUpdateStrategyPersists(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	cfg := validStrategy()
	cfg.TargetLTVBps = 7_000
	require.NoError(t, f.svc.UpdateStrategy(ctx, cfg, "ops"))

	got, err := f.svc.Strategy(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7_000), got.TargetLTVBps)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestEmergencyWithdrawRequiresPause(t *testing.T) {
	f := newAdminFixture(t)
	f.bank.Credit(adminBase, big.NewInt(100))

	err := f.svc.EmergencyWithdraw(context.Background(), adminBase, recovery, big.NewInt(50), "ops")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Equal(t, int64(100), f.bank.Balance(adminBase).Int64())
}

func TestEmergencyWithdrawRespectsBackingBalances(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	// An open position owes 144 base; only custody above that may leave.
	pos := domain.NewPosition("p1", common.BigToAddress(big.NewInt(0xA0)),
		adminMarket, "aave", big.NewInt(100), 24_400, 1.05, time.Now().UTC())
	pos.DebtOutstanding = big.NewInt(144)
	require.NoError(t, f.positions.Create(ctx, pos))

	f.bank.Credit(adminBase, big.NewInt(200))
	f.svc.Pause(ctx, "ops")

	err := f.svc.EmergencyWithdraw(ctx, adminBase, recovery, big.NewInt(100), "ops")
	require.ErrorIs(t, err, domain.ErrTokenBacksOpenPos)

	require.NoError(t, f.svc.EmergencyWithdraw(ctx, adminBase, recovery, big.NewInt(56), "ops"))
	require.Equal(t, int64(56), f.bank.OwnerBalance(recovery, adminBase).Int64())
	require.Equal(t, int64(144), f.bank.Balance(adminBase).Int64())
}

func TestEmergencyWithdrawUnreservedToken(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	other := common.BigToAddress(big.NewInt(0x99))
	f.bank.Credit(other, big.NewInt(10))
	f.svc.Pause(ctx, "ops")

	require.NoError(t, f.svc.EmergencyWithdraw(ctx, other, recovery, big.NewInt(10), "ops"))
	require.Equal(t, int64(10), f.bank.OwnerBalance(recovery, other).Int64())

	err := f.svc.EmergencyWithdraw(ctx, other, recovery, big.NewInt(1), "ops")
	require.ErrorIs(t, err, domain.ErrTokenBacksOpenPos)
}

func TestSetVenueApprovalDelegates(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	addr := common.BigToAddress(big.NewInt(0x42))

	require.NoError(t, f.svc.SetVenueApproval(ctx, domain.CategorySwapRouter, addr, true, "ops"))

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.EventRegistryUpdated, entries[0].Event)
}
