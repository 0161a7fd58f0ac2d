// Package domain defines the core types and interfaces of the looping
// engine: positions, strategy configuration, the venue registry, the venue
// adapter contracts, and the persistence/cache interfaces implemented by the
// infrastructure packages.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HealthState tracks where a position sits in the risk state machine.
type HealthState string

const (
	HealthStateHealthy     HealthState = "healthy"
	HealthStateLiquidating HealthState = "liquidating"
	HealthStateClosed      HealthState = "closed"
)

// MaxLoops bounds the number of split/supply/borrow cycles a single open
// call may execute.
const MaxLoops = 10

// ClaimsHeld is the quantity of each claim type held in engine custody but
// not yet deposited or sold.
type ClaimsHeld struct {
	Principal *big.Int
	Yield     *big.Int
}

// Position is the per-owner ledger record for one leveraged loop position.
// At most one active position exists per owner at any time.
type Position struct {
	ID                  string
	Owner               common.Address
	SplittingMarket     common.Address
	LendingVenue        string // "aave", "morpho", or "spark"
	CollateralDeposited *big.Int // principal-claim units posted as collateral
	DebtOutstanding     *big.Int // base-asset units borrowed and still owed
	Claims              ClaimsHeld
	InitialDeposit      *big.Int
	LoopsExecuted       int
	TargetLeverageBps   int64
	MinHealthRatio      float64
	State               HealthState
	IsActive            bool
	OpenedAt            time.Time
	LastRebalancedAt    time.Time
	ClosedAt            *time.Time
}

// NewPosition returns a zero-valued position pre-image for the given owner.
// The record is written to the ledger before any external call is made.
func NewPosition(id string, owner common.Address, market common.Address, venue string, deposit *big.Int, targetLeverageBps int64, minHealth float64, now time.Time) Position {
	return Position{
		ID:                  id,
		Owner:               owner,
		SplittingMarket:     market,
		LendingVenue:        venue,
		CollateralDeposited: new(big.Int),
		DebtOutstanding:     new(big.Int),
		Claims:              ClaimsHeld{Principal: new(big.Int), Yield: new(big.Int)},
		InitialDeposit:      new(big.Int).Set(deposit),
		TargetLeverageBps:   targetLeverageBps,
		MinHealthRatio:      minHealth,
		State:               HealthStateHealthy,
		IsActive:            true,
		OpenedAt:            now,
		LastRebalancedAt:    now,
	}
}
