package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyConfig fixes the engine's tradable universe: the base asset, the
// claim pair minted by the splitting market, the lending venue variant, and
// the global risk bounds. It must be fully populated before any position can
// open. Updating it while positions are open is allowed; open positions keep
// the health parameters they were opened with.
type StrategyConfig struct {
	BaseAsset         common.Address
	PrincipalClaim    common.Address // also the lending collateral token
	YieldClaim        common.Address
	SplittingMarket   common.Address
	SwapRouter        common.Address
	LendingVenue      string // selects the lending adapter variant
	MaxLeverageBps    int64
	MinHealthRatio    float64
	TargetLTVBps      int64 // borrow target per loop, fraction of collateral value
	SlippageFloorBps  int64 // first-loop minimum split output vs. quote
	SlippageDecayBps  int64 // per-loop reduction of the floor
	Active            bool
	UpdatedAt         time.Time
}

// Populated reports whether every address and bound required to open a
// position has been set.
func (c StrategyConfig) Populated() bool {
	zero := common.Address{}
	if c.BaseAsset == zero || c.PrincipalClaim == zero || c.YieldClaim == zero {
		return false
	}
	if c.SplittingMarket == zero || c.SwapRouter == zero || c.LendingVenue == "" {
		return false
	}
	return c.MaxLeverageBps > 0 && c.MinHealthRatio > 0 && c.TargetLTVBps > 0
}
