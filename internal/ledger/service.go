// Package ledger aggregates the position store into portfolio totals and
// reconciles them against the lending venue's own account view.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

const pageSize = 200

// Totals is the ledger-side aggregate over all active positions.
type Totals struct {
	ActivePositions     int
	CollateralDeposited *big.Int // principal-claim units at the lending venue
	DebtOutstanding     *big.Int // base-asset units owed
	PrincipalHeld       *big.Int // claims in engine custody, not yet deposited
	YieldHeld           *big.Int
}

// Service computes portfolio aggregates from the position store.
type Service struct {
	positions domain.PositionStore
}

func NewService(positions domain.PositionStore) *Service {
	return &Service{positions: positions}
}

// Totals walks every active position and sums its ledger amounts.
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	t := Totals{
		CollateralDeposited: big.NewInt(0),
		DebtOutstanding:     big.NewInt(0),
		PrincipalHeld:       big.NewInt(0),
		YieldHeld:           big.NewInt(0),
	}
	for offset := 0; ; offset += pageSize {
		page, err := s.positions.ListActive(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return Totals{}, fmt.Errorf("ledger: list active positions: %w", err)
		}
		for _, pos := range page {
			t.ActivePositions++
			t.CollateralDeposited.Add(t.CollateralDeposited, pos.CollateralDeposited)
			t.DebtOutstanding.Add(t.DebtOutstanding, pos.DebtOutstanding)
			if pos.Claims.Principal != nil {
				t.PrincipalHeld.Add(t.PrincipalHeld, pos.Claims.Principal)
			}
			if pos.Claims.Yield != nil {
				t.YieldHeld.Add(t.YieldHeld, pos.Claims.Yield)
			}
		}
		if len(page) < pageSize {
			return t, nil
		}
	}
}

// BackingBalances maps each strategy token to the amount that backs open
// positions and must never leave custody through an emergency withdrawal.
func (s *Service) BackingBalances(ctx context.Context, strat domain.StrategyConfig) (map[common.Address]*big.Int, error) {
	totals, err := s.Totals(ctx)
	if err != nil {
		return nil, err
	}
	backing := map[common.Address]*big.Int{
		strat.PrincipalClaim: totals.PrincipalHeld,
		strat.YieldClaim:     totals.YieldHeld,
		// borrowed base in custody still belongs to the loan cycle
		strat.BaseAsset: totals.DebtOutstanding,
	}
	return backing, nil
}
