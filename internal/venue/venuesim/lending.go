package venuesim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// LendingVenue simulates a collateralized lender. The engine holds one
// account; the collateral asset is valued at PriceBps/10000 base units per
// unit and borrows are capped at LTVBps of collateral value.
type LendingVenue struct {
	mu sync.Mutex

	bank       *Bank
	name       string
	collateral common.Address
	debtToken  common.Address
	ltvBps     int64
	priceBps   int64

	deposited *big.Int
	debt      *big.Int
}

var _ domain.LendingVenue = (*LendingVenue)(nil)

// LendingConfig sets up a simulated lending venue.
type LendingConfig struct {
	Name       string
	Collateral common.Address
	DebtToken  common.Address
	LTVBps     int64
	PriceBps   int64 // collateral value per unit, 10000 = par
}

func NewLendingVenue(bank *Bank, cfg LendingConfig) *LendingVenue {
	if cfg.LTVBps <= 0 {
		cfg.LTVBps = 8_000
	}
	if cfg.PriceBps <= 0 {
		cfg.PriceBps = 10_000
	}
	return &LendingVenue{
		bank:       bank,
		name:       cfg.Name,
		collateral: cfg.Collateral,
		debtToken:  cfg.DebtToken,
		ltvBps:     cfg.LTVBps,
		priceBps:   cfg.PriceBps,
		deposited:  big.NewInt(0),
		debt:       big.NewInt(0),
	}
}

func (v *LendingVenue) Supply(ctx context.Context, token common.Address, amount *big.Int) error {
	if token != v.collateral {
		return fmt.Errorf("venuesim: %s does not accept %s as collateral: %w", v.name, token.Hex(), domain.ErrInvalidInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("venuesim: supply amount must be positive: %w", domain.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.bank.Debit(v.collateral, amount); err != nil {
		return err
	}
	v.deposited.Add(v.deposited, amount)
	return nil
}

func (v *LendingVenue) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if token != v.collateral {
		return nil, fmt.Errorf("venuesim: %s holds no %s collateral: %w", v.name, token.Hex(), domain.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	free := v.freeCollateral()
	actual := new(big.Int).Set(amount)
	if actual.Cmp(free) > 0 {
		actual.Set(free)
	}
	if actual.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	v.deposited.Sub(v.deposited, actual)
	v.bank.Credit(v.collateral, actual)
	return actual, nil
}

func (v *LendingVenue) MaxWithdrawable(ctx context.Context, token common.Address) (*big.Int, error) {
	if token != v.collateral {
		return big.NewInt(0), nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.freeCollateral(), nil
}

func (v *LendingVenue) Borrow(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if token != v.debtToken {
		return nil, fmt.Errorf("venuesim: %s does not lend %s: %w", v.name, token.Hex(), domain.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	capacity := new(big.Int).Sub(mulBps(v.collateralValue(), v.ltvBps), v.debt)
	actual := new(big.Int).Set(amount)
	if actual.Cmp(capacity) > 0 {
		actual.Set(capacity)
	}
	if actual.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	v.debt.Add(v.debt, actual)
	v.bank.Credit(v.debtToken, actual)
	return actual, nil
}

func (v *LendingVenue) Repay(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if token != v.debtToken {
		return nil, fmt.Errorf("venuesim: %s holds no %s debt: %w", v.name, token.Hex(), domain.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	applied := new(big.Int).Set(amount)
	if applied.Cmp(v.debt) > 0 {
		applied.Set(v.debt)
	}
	if applied.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := v.bank.Debit(v.debtToken, applied); err != nil {
		return nil, err
	}
	v.debt.Sub(v.debt, applied)
	return applied, nil
}

func (v *LendingVenue) AccountHealth(ctx context.Context) (domain.AccountHealth, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	collateral := v.collateralValue()
	debt := new(big.Int).Set(v.debt)
	ratio := domain.HealthInfinity
	if debt.Sign() > 0 {
		c, _ := new(big.Float).SetInt(collateral).Float64()
		d, _ := new(big.Float).SetInt(debt).Float64()
		ratio = c / d
		if ratio > domain.HealthInfinity {
			ratio = domain.HealthInfinity
		}
	}
	return domain.AccountHealth{CollateralValue: collateral, DebtValue: debt, HealthRatio: ratio}, nil
}

func (v *LendingVenue) Name() string { return v.name }

// SetPriceBps reprices the collateral, for tests that force a drawdown.
func (v *LendingVenue) SetPriceBps(bps int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.priceBps = bps
}

func (v *LendingVenue) collateralValue() *big.Int {
	return mulBps(v.deposited, v.priceBps)
}

// freeCollateral is the collateral units releasable while keeping debt at
// or under the LTV cap. Callers hold v.mu.
func (v *LendingVenue) freeCollateral() *big.Int {
	if v.debt.Sign() == 0 {
		return new(big.Int).Set(v.deposited)
	}
	// required value = ceil(debt*10000/ltv); required units = ceil(value*10000/price)
	requiredValue := ceilDiv(new(big.Int).Mul(v.debt, big.NewInt(10_000)), big.NewInt(v.ltvBps))
	requiredUnits := ceilDiv(new(big.Int).Mul(requiredValue, big.NewInt(10_000)), big.NewInt(v.priceBps))
	free := new(big.Int).Sub(v.deposited, requiredUnits)
	if free.Sign() < 0 {
		return big.NewInt(0)
	}
	return free
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
