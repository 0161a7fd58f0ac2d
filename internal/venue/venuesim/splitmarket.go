package venuesim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// SplitMarket simulates a claim-splitting market. One unit of base asset
// mints SplitRateBps/10000 matched claim pairs; a matched pair redeems 1:1
// for base. After maturity the principal claim alone redeems 1:1.
type SplitMarket struct {
	mu sync.Mutex

	bank         *Bank
	market       common.Address
	base         common.Address
	principal    common.Address
	yield        common.Address
	splitRateBps int64
	maturity     time.Time

	now func() time.Time
}

var _ domain.SplittingMarket = (*SplitMarket)(nil)

// SplitMarketConfig sets up a simulated market.
type SplitMarketConfig struct {
	Market       common.Address
	Base         common.Address
	Principal    common.Address
	Yield        common.Address
	SplitRateBps int64 // pairs minted per 10000 base units
	Maturity     time.Time
	Now          func() time.Time
}

func NewSplitMarket(bank *Bank, cfg SplitMarketConfig) *SplitMarket {
	if cfg.SplitRateBps <= 0 {
		cfg.SplitRateBps = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SplitMarket{
		bank:         bank,
		market:       cfg.Market,
		base:         cfg.Base,
		principal:    cfg.Principal,
		yield:        cfg.Yield,
		splitRateBps: cfg.SplitRateBps,
		maturity:     cfg.Maturity,
		now:          cfg.Now,
	}
}

func (m *SplitMarket) Split(ctx context.Context, amount, minPrincipalOut *big.Int) (domain.SplitResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.SplitResult{}, fmt.Errorf("venuesim: split amount must be positive: %w", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.now().Before(m.maturity) {
		return domain.SplitResult{}, fmt.Errorf("venuesim: market matured %s, splitting closed: %w",
			m.maturity.Format(time.RFC3339), domain.ErrInvalidInput)
	}
	pairs := mulBps(amount, m.splitRateBps)
	if minPrincipalOut != nil && pairs.Cmp(minPrincipalOut) < 0 {
		return domain.SplitResult{}, fmt.Errorf("venuesim: split out %s below floor %s: %w",
			pairs, minPrincipalOut, domain.ErrSlippageExceeded)
	}
	if err := m.bank.Debit(m.base, amount); err != nil {
		return domain.SplitResult{}, err
	}
	m.bank.Credit(m.principal, pairs)
	m.bank.Credit(m.yield, pairs)
	return domain.SplitResult{
		Principal: new(big.Int).Set(pairs),
		Yield:     new(big.Int).Set(pairs),
	}, nil
}

func (m *SplitMarket) RedeemPair(ctx context.Context, principal, yield *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := new(big.Int).Set(principal)
	if yield.Cmp(matched) < 0 {
		matched.Set(yield)
	}
	if matched.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := m.bank.Debit(m.principal, matched); err != nil {
		return nil, err
	}
	if err := m.bank.Debit(m.yield, matched); err != nil {
		// restore the principal leg
		m.bank.Credit(m.principal, matched)
		return nil, err
	}
	m.bank.Credit(m.base, matched)
	return matched, nil
}

func (m *SplitMarket) RedeemPrincipal(ctx context.Context, principal *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.now().Before(m.maturity) {
		return nil, fmt.Errorf("venuesim: principal redemption before maturity %s: %w",
			m.maturity.Format(time.RFC3339), domain.ErrInvalidInput)
	}
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := m.bank.Debit(m.principal, principal); err != nil {
		return nil, err
	}
	m.bank.Credit(m.base, principal)
	return new(big.Int).Set(principal), nil
}

func (m *SplitMarket) QuoteSplit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mulBps(amount, m.splitRateBps), nil
}

func (m *SplitMarket) Maturity(ctx context.Context) (time.Time, error) {
	return m.maturity, nil
}

func (m *SplitMarket) Address() common.Address {
	return m.market
}
