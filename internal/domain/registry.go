package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VenueCategory classifies an approved external collaborator address.
type VenueCategory string

const (
	CategorySplittingMarket VenueCategory = "splitting_market"
	CategorySwapRouter      VenueCategory = "swap_router"
	CategoryClaimSource     VenueCategory = "claim_source"
)

// RegistryEntry is one row of the administered venue whitelist. Entries are
// only ever written by administration; the engine consults them before any
// categorized external call.
type RegistryEntry struct {
	Category  VenueCategory
	Address   common.Address
	Approved  bool
	UpdatedBy string
	UpdatedAt time.Time
}
