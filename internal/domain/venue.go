package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SplitResult is the claim pair minted from one split of the base asset.
type SplitResult struct {
	Principal *big.Int
	Yield     *big.Int
}

// SplittingMarket mints and redeems principal+yield claim pairs from/to the
// base asset. Before maturity redemption requires a matched pair; after
// maturity the principal claim alone redeems 1:1.
type SplittingMarket interface {
	// Split converts amount of the base asset into a claim pair. It fails
	// if the principal output would be below minPrincipalOut.
	Split(ctx context.Context, amount, minPrincipalOut *big.Int) (SplitResult, error)
	// RedeemPair burns matched principal and yield claims for base asset.
	RedeemPair(ctx context.Context, principal, yield *big.Int) (*big.Int, error)
	// RedeemPrincipal burns principal claims 1:1 for base asset. Only valid
	// after maturity.
	RedeemPrincipal(ctx context.Context, principal *big.Int) (*big.Int, error)
	// QuoteSplit returns the expected principal output for amount.
	QuoteSplit(ctx context.Context, amount *big.Int) (*big.Int, error)
	Maturity(ctx context.Context) (time.Time, error)
	Address() common.Address
}

// AccountHealth is the lending venue's view of the engine's account.
type AccountHealth struct {
	CollateralValue *big.Int // in base-asset units
	DebtValue       *big.Int
	HealthRatio     float64 // CollateralValue / DebtValue; HealthInfinity when no debt
}

// HealthInfinity caps the reported health ratio when an account carries no
// debt so snapshots stay JSON-encodable.
const HealthInfinity = 1e9

// LendingVenue is the common capability interface over the closed set of
// supported lending adapters. Amounts are base units of the given token.
type LendingVenue interface {
	Supply(ctx context.Context, token common.Address, amount *big.Int) error
	// Withdraw returns the amount actually withdrawn, which may be less
	// than requested when debt constrains the account.
	Withdraw(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	// MaxWithdrawable is the collateral the venue would release right now
	// without breaching its own minimum health.
	MaxWithdrawable(ctx context.Context, token common.Address) (*big.Int, error)
	// Borrow returns the amount actually borrowed; zero means the account
	// has no remaining borrow capacity.
	Borrow(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	// Repay returns the amount applied to debt (never more than owed).
	Repay(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	AccountHealth(ctx context.Context) (AccountHealth, error)
	Name() string
}

// SwapVenue exchanges one token for another with a caller-supplied floor.
type SwapVenue interface {
	SwapExact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error)
	Router() common.Address
}

// FlashLoan describes one outstanding flash-settled loan inside a provider
// callback. Repayment of Amount+Fee must be assembled before the callback
// returns.
type FlashLoan struct {
	Token  common.Address
	Amount *big.Int
	Fee    *big.Int
}

// FlashLoanProvider issues flash-settled loans. The provider transfers the
// funds, invokes fn, and verifies full repayment before Flash returns; if fn
// errors or repayment falls short the whole loan is voided and Flash returns
// the failure.
type FlashLoanProvider interface {
	Flash(ctx context.Context, token common.Address, amount *big.Int, fn func(ctx context.Context, loan FlashLoan) error) error
	// Repay moves amount toward settling the loan from engine custody.
	Repay(ctx context.Context, loan FlashLoan, amount *big.Int) error
	FeeBps() int64
}

// Treasury moves base-asset custody between an owner's funding account and
// the engine, and reports the engine's own token balances.
type Treasury interface {
	Pull(ctx context.Context, owner common.Address, token common.Address, amount *big.Int) error
	Push(ctx context.Context, owner common.Address, token common.Address, amount *big.Int) error
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
}
