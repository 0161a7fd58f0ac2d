package venuesim

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/domain"
)

var (
	testOwner  = common.BigToAddress(big.NewInt(0xA0))
	testBase   = common.BigToAddress(big.NewInt(0x01))
	testPT     = common.BigToAddress(big.NewInt(0x02))
	testYT     = common.BigToAddress(big.NewInt(0x03))
	testMarket = common.BigToAddress(big.NewInt(0x04))
	testRouter = common.BigToAddress(big.NewInt(0x05))
)

func TestBankCustody(t *testing.T) {
	b := NewBank()

	b.Credit(testBase, big.NewInt(50))
	require.Equal(t, int64(50), b.Balance(testBase).Int64())

	require.NoError(t, b.Debit(testBase, big.NewInt(30)))
	require.Equal(t, int64(20), b.Balance(testBase).Int64())

	err := b.Debit(testBase, big.NewInt(21))
	require.Error(t, err)
	require.Equal(t, int64(20), b.Balance(testBase).Int64())
}

func TestBankOwnerAccounts(t *testing.T) {
	b := NewBank()
	b.FundOwner(testOwner, testBase, big.NewInt(100))
	require.Equal(t, int64(100), b.OwnerBalance(testOwner, testBase).Int64())

	tr := NewTreasury(b)
	ctx := context.Background()

	require.NoError(t, tr.Pull(ctx, testOwner, testBase, big.NewInt(60)))
	require.Equal(t, int64(40), b.OwnerBalance(testOwner, testBase).Int64())
	require.Equal(t, int64(60), b.Balance(testBase).Int64())

	require.NoError(t, tr.Push(ctx, testOwner, testBase, big.NewInt(10)))
	require.Equal(t, int64(50), b.OwnerBalance(testOwner, testBase).Int64())
	require.Equal(t, int64(50), b.Balance(testBase).Int64())

	// Pulling past the owner's balance fails without touching custody.
	require.Error(t, tr.Pull(ctx, testOwner, testBase, big.NewInt(1_000)))
	require.Equal(t, int64(50), b.OwnerBalance(testOwner, testBase).Int64())
}

func newTestMarket(b *Bank, rateBps int64, maturity time.Time, now func() time.Time) *SplitMarket {
	return NewSplitMarket(b, SplitMarketConfig{
		Market:       testMarket,
		Base:         testBase,
		Principal:    testPT,
		Yield:        testYT,
		SplitRateBps: rateBps,
		Maturity:     maturity,
		Now:          now,
	})
}

func TestSplitMintsMatchedPairs(t *testing.T) {
	b := NewBank()
	b.Credit(testBase, big.NewInt(100))
	m := newTestMarket(b, 9_800, time.Now().Add(time.Hour), nil)
	ctx := context.Background()

	res, err := m.Split(ctx, big.NewInt(100), nil)
	require.NoError(t, err)
	require.Equal(t, int64(98), res.Principal.Int64())
	require.Equal(t, int64(98), res.Yield.Int64())
	require.Equal(t, int64(0), b.Balance(testBase).Int64())
	require.Equal(t, int64(98), b.Balance(testPT).Int64())
	require.Equal(t, int64(98), b.Balance(testYT).Int64())
}

func TestSplitEnforcesFloor(t *testing.T) {
	b := NewBank()
	b.Credit(testBase, big.NewInt(100))
	m := newTestMarket(b, 9_800, time.Now().Add(time.Hour), nil)

	_, err := m.Split(context.Background(), big.NewInt(100), big.NewInt(99))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
	require.Equal(t, int64(100), b.Balance(testBase).Int64())
}

func TestRedeemPairConsumesMatchedAmount(t *testing.T) {
	b := NewBank()
	b.Credit(testBase, big.NewInt(100))
	m := newTestMarket(b, 10_000, time.Now().Add(time.Hour), nil)
	ctx := context.Background()

	_, err := m.Split(ctx, big.NewInt(100), nil)
	require.NoError(t, err)

	// Only the matched leg redeems: 40 pairs despite 100 principal held.
	out, err := m.RedeemPair(ctx, big.NewInt(100), big.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, int64(40), out.Int64())
	require.Equal(t, int64(40), b.Balance(testBase).Int64())
	require.Equal(t, int64(60), b.Balance(testPT).Int64())
	require.Equal(t, int64(60), b.Balance(testYT).Int64())
}

func TestRedeemPrincipalGatedByMaturity(t *testing.T) {
	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	maturity := clock.Add(24 * time.Hour)
	now := func() time.Time { return clock }

	b := NewBank()
	b.Credit(testBase, big.NewInt(100))
	m := newTestMarket(b, 10_000, maturity, now)
	ctx := context.Background()

	_, err := m.Split(ctx, big.NewInt(100), nil)
	require.NoError(t, err)

	_, err = m.RedeemPrincipal(ctx, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	clock = maturity.Add(time.Second)
	out, err := m.RedeemPrincipal(ctx, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), out.Int64())
	require.Equal(t, int64(100), b.Balance(testBase).Int64())
	// Yield claims survive principal redemption.
	require.Equal(t, int64(100), b.Balance(testYT).Int64())
}

func TestSplitClosedAfterMaturity(t *testing.T) {
	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	maturity := clock.Add(24 * time.Hour)
	now := func() time.Time { return clock }

	b := NewBank()
	b.Credit(testBase, big.NewInt(100))
	m := newTestMarket(b, 10_000, maturity, now)
	ctx := context.Background()

	clock = maturity.Add(time.Second)
	_, err := m.Split(ctx, big.NewInt(100), nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Equal(t, int64(100), b.Balance(testBase).Int64())
}

func newTestVenue(b *Bank, ltvBps int64) *LendingVenue {
	return NewLendingVenue(b, LendingConfig{
		Name:       "aave",
		Collateral: testPT,
		DebtToken:  testBase,
		LTVBps:     ltvBps,
	})
}

func TestLendingBorrowCappedAtLTV(t *testing.T) {
	b := NewBank()
	b.Credit(testPT, big.NewInt(100))
	v := newTestVenue(b, 8_000)
	ctx := context.Background()

	require.NoError(t, v.Supply(ctx, testPT, big.NewInt(100)))

	got, err := v.Borrow(ctx, testBase, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(80), got.Int64())
	require.Equal(t, int64(80), b.Balance(testBase).Int64())

	// No headroom left.
	got, err = v.Borrow(ctx, testBase, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Int64())
}

func TestLendingWithdrawLimitedToFreeCollateral(t *testing.T) {
	b := NewBank()
	b.Credit(testPT, big.NewInt(100))
	v := newTestVenue(b, 8_000)
	ctx := context.Background()

	require.NoError(t, v.Supply(ctx, testPT, big.NewInt(100)))
	_, err := v.Borrow(ctx, testBase, big.NewInt(40))
	require.NoError(t, err)

	// 40 debt needs ceil(40/0.8)=50 units locked.
	free, err := v.MaxWithdrawable(ctx, testPT)
	require.NoError(t, err)
	require.Equal(t, int64(50), free.Int64())

	got, err := v.Withdraw(ctx, testPT, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(50), got.Int64())

	applied, err := v.Repay(ctx, testBase, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(40), applied.Int64())

	free, err = v.MaxWithdrawable(ctx, testPT)
	require.NoError(t, err)
	require.Equal(t, int64(50), free.Int64())
}

func TestLendingHealthTracksPrice(t *testing.T) {
	b := NewBank()
	b.Credit(testPT, big.NewInt(100))
	v := newTestVenue(b, 8_000)
	ctx := context.Background()

	require.NoError(t, v.Supply(ctx, testPT, big.NewInt(100)))

	health, err := v.AccountHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.HealthInfinity, health.HealthRatio)

	_, err = v.Borrow(ctx, testBase, big.NewInt(50))
	require.NoError(t, err)

	health, err = v.AccountHealth(ctx)
	require.NoError(t, err)
	require.InDelta(t, 2.0, health.HealthRatio, 1e-9)

	v.SetPriceBps(5_000)
	health, err = v.AccountHealth(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1.0, health.HealthRatio, 1e-9)
	require.Equal(t, int64(50), health.CollateralValue.Int64())
}

func TestLendingRejectsWrongTokens(t *testing.T) {
	b := NewBank()
	v := newTestVenue(b, 8_000)
	ctx := context.Background()

	require.ErrorIs(t, v.Supply(ctx, testBase, big.NewInt(10)), domain.ErrInvalidInput)
	_, err := v.Borrow(ctx, testPT, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSwapRequiresRoute(t *testing.T) {
	b := NewBank()
	b.Credit(testYT, big.NewInt(100))
	s := NewSwap(b, testRouter)
	ctx := context.Background()

	_, err := s.SwapExact(ctx, testYT, testBase, big.NewInt(100), nil)
	require.ErrorIs(t, err, domain.ErrVenueCall)

	s.SetRate(testYT, testBase, 500)
	out, err := s.SwapExact(ctx, testYT, testBase, big.NewInt(100), big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Int64())
	require.Equal(t, int64(0), b.Balance(testYT).Int64())
	require.Equal(t, int64(5), b.Balance(testBase).Int64())
}

func TestSwapEnforcesMinOut(t *testing.T) {
	b := NewBank()
	b.Credit(testYT, big.NewInt(100))
	s := NewSwap(b, testRouter)
	s.SetRate(testYT, testBase, 500)

	_, err := s.SwapExact(context.Background(), testYT, testBase, big.NewInt(100), big.NewInt(6))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
	require.Equal(t, int64(100), b.Balance(testYT).Int64())
}

func TestFlashLoanHappyPath(t *testing.T) {
	b := NewBank()
	b.Credit(testBase, big.NewInt(10)) // enough to cover the fee
	p := NewFlashProvider(b, 100)
	ctx := context.Background()

	err := p.Flash(ctx, testBase, big.NewInt(1_000), func(ctx context.Context, loan domain.FlashLoan) error {
		require.Equal(t, int64(1_000), loan.Amount.Int64())
		require.Equal(t, int64(10), loan.Fee.Int64())
		owed := new(big.Int).Add(loan.Amount, loan.Fee)
		return p.Repay(ctx, loan, owed)
	})
	require.NoError(t, err)
	// Principal and fee left custody.
	require.Equal(t, int64(0), b.Balance(testBase).Int64())
}

func TestFlashLoanVoidsOnCallbackError(t *testing.T) {
	b := NewBank()
	p := NewFlashProvider(b, 100)
	boom := errors.New("venue rejected")

	err := p.Flash(context.Background(), testBase, big.NewInt(1_000), func(context.Context, domain.FlashLoan) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(0), b.Balance(testBase).Int64())
}

func TestFlashLoanVoidsOnShortfall(t *testing.T) {
	b := NewBank()
	p := NewFlashProvider(b, 100)
	ctx := context.Background()

	err := p.Flash(ctx, testBase, big.NewInt(1_000), func(ctx context.Context, loan domain.FlashLoan) error {
		// Repay the principal but not the fee.
		return p.Repay(ctx, loan, loan.Amount)
	})
	require.ErrorIs(t, err, domain.ErrFlashShortfall)
	require.Equal(t, int64(0), b.Balance(testBase).Int64())
}

func TestFlashLoanRejectsReentry(t *testing.T) {
	b := NewBank()
	p := NewFlashProvider(b, 0)
	ctx := context.Background()

	err := p.Flash(ctx, testBase, big.NewInt(100), func(ctx context.Context, loan domain.FlashLoan) error {
		inner := p.Flash(ctx, testBase, big.NewInt(100), func(context.Context, domain.FlashLoan) error {
			return nil
		})
		require.ErrorIs(t, inner, domain.ErrInvalidInput)
		return p.Repay(ctx, loan, loan.Amount)
	})
	require.NoError(t, err)
}
