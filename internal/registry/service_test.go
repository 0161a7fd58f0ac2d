package registry

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/store/memstore"
)

func newTestService() (*Service, *memstore.RegistryStore, *memstore.AuditStore, *memstore.SignalBus) {
	store := memstore.NewRegistryStore()
	audit := memstore.NewAuditStore()
	bus := memstore.NewSignalBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, audit, bus, logger), store, audit, bus
}

func TestUnknownAddressIsNotApproved(t *testing.T) {
	svc, _, _, _ := newTestService()
	addr := common.BigToAddress(big.NewInt(0x10))

	ok, err := svc.IsApproved(context.Background(), domain.CategorySwapRouter, addr)
	require.NoError(t, err)
	require.False(t, ok)

	err = svc.Require(context.Background(), domain.CategorySwapRouter, addr)
	require.ErrorIs(t, err, domain.ErrVenueNotApproved)
}

func TestSetApprovalRoundTrip(t *testing.T) {
	svc, store, audit, _ := newTestService()
	ctx := context.Background()
	addr := common.BigToAddress(big.NewInt(0x10))

	require.NoError(t, svc.SetApproval(ctx, domain.CategorySwapRouter, addr, true, "ops"))
	require.NoError(t, svc.Require(ctx, domain.CategorySwapRouter, addr))

	entry, err := store.Get(ctx, domain.CategorySwapRouter, addr)
	require.NoError(t, err)
	require.True(t, entry.Approved)
	require.Equal(t, "ops", entry.UpdatedBy)
	require.False(t, entry.UpdatedAt.IsZero())

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.EventRegistryUpdated, entries[0].Event)
}

func TestRevocationTakesImmediateEffect(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	addr := common.BigToAddress(big.NewInt(0x10))

	require.NoError(t, svc.SetApproval(ctx, domain.CategorySplittingMarket, addr, true, "ops"))
	require.NoError(t, svc.Require(ctx, domain.CategorySplittingMarket, addr))

	// The cached positive decision must not outlive the revocation.
	require.NoError(t, svc.SetApproval(ctx, domain.CategorySplittingMarket, addr, false, "ops"))
	require.ErrorIs(t, svc.Require(ctx, domain.CategorySplittingMarket, addr), domain.ErrVenueNotApproved)
}

func TestSetApprovalRejectsUnknownCategory(t *testing.T) {
	svc, _, _, _ := newTestService()
	addr := common.BigToAddress(big.NewInt(0x10))

	err := svc.SetApproval(context.Background(), domain.VenueCategory("bridge"), addr, true, "ops")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestApprovalsAreCategoryScoped(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	addr := common.BigToAddress(big.NewInt(0x10))

	require.NoError(t, svc.SetApproval(ctx, domain.CategorySwapRouter, addr, true, "ops"))
	require.ErrorIs(t, svc.Require(ctx, domain.CategorySplittingMarket, addr), domain.ErrVenueNotApproved)
}

func TestSetApprovalPublishesAdminEvent(t *testing.T) {
	svc, _, _, bus := newTestService()
	ctx := context.Background()
	addr := common.BigToAddress(big.NewInt(0x10))

	ch, err := bus.Subscribe(ctx, domain.ChannelAdmin)
	require.NoError(t, err)

	require.NoError(t, svc.SetApproval(ctx, domain.CategoryClaimSource, addr, true, "ops"))

	select {
	case payload := <-ch:
		require.Contains(t, string(payload), domain.EventRegistryUpdated)
		require.Contains(t, string(payload), addr.Hex())
	default:
		t.Fatal("expected a registry update on the admin channel")
	}
}

func TestListByCategory(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, svc.SetApproval(ctx, domain.CategorySwapRouter,
			common.BigToAddress(big.NewInt(i)), i != 2, "ops"))
	}

	entries, err := svc.List(ctx, domain.CategorySwapRouter)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
