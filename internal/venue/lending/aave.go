package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

// Aave adapts the pooled aave-style gateway. All reserves share one account
// and the gateway reports aggregate collateral and debt in base-asset terms.
type Aave struct {
	gw *gateway.Client
}

var _ domain.LendingVenue = (*Aave)(nil)

func NewAave(gw *gateway.Client) *Aave {
	return &Aave{gw: gw}
}

type aaveAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type aaveAmountResponse struct {
	Amount string `json:"amount"`
}

func (a *Aave) Supply(ctx context.Context, token common.Address, amount *big.Int) error {
	req := aaveAmountRequest{Asset: token.Hex(), Amount: gateway.FormatAmount(amount)}
	if _, err := a.gw.Do(ctx, http.MethodPost, "/v1/aave/supply", req); err != nil {
		return fmt.Errorf("lending/aave: supply: %w", err)
	}
	return nil
}

func (a *Aave) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := aaveAmountRequest{Asset: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := a.gw.Do(ctx, http.MethodPost, "/v1/aave/withdraw", req)
	if err != nil {
		return nil, fmt.Errorf("lending/aave: withdraw: %w", err)
	}
	return a.decodeAmount(body, "withdraw")
}

func (a *Aave) MaxWithdrawable(ctx context.Context, token common.Address) (*big.Int, error) {
	path := "/v1/aave/max-withdrawable?asset=" + token.Hex()
	body, err := a.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("lending/aave: max withdrawable: %w", err)
	}
	return a.decodeAmount(body, "max withdrawable")
}

func (a *Aave) Borrow(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := aaveAmountRequest{Asset: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := a.gw.Do(ctx, http.MethodPost, "/v1/aave/borrow", req)
	if err != nil {
		return nil, fmt.Errorf("lending/aave: borrow: %w", err)
	}
	return a.decodeAmount(body, "borrow")
}

func (a *Aave) Repay(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := aaveAmountRequest{Asset: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := a.gw.Do(ctx, http.MethodPost, "/v1/aave/repay", req)
	if err != nil {
		return nil, fmt.Errorf("lending/aave: repay: %w", err)
	}
	return a.decodeAmount(body, "repay")
}

type aaveAccountResponse struct {
	TotalCollateralBase string `json:"total_collateral_base"`
	TotalDebtBase       string `json:"total_debt_base"`
}

func (a *Aave) AccountHealth(ctx context.Context) (domain.AccountHealth, error) {
	body, err := a.gw.Do(ctx, http.MethodGet, "/v1/aave/account", nil)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/aave: account: %w", err)
	}
	var resp aaveAccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/aave: decode account: %w", err)
	}
	collateral, err := gateway.ParseAmount(resp.TotalCollateralBase)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/aave: account collateral: %w", err)
	}
	debt, err := gateway.ParseAmount(resp.TotalDebtBase)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/aave: account debt: %w", err)
	}
	return domain.AccountHealth{
		CollateralValue: collateral,
		DebtValue:       debt,
		HealthRatio:     healthRatio(collateral, debt),
	}, nil
}

func (a *Aave) Name() string { return VenueAave }

func (a *Aave) decodeAmount(body []byte, op string) (*big.Int, error) {
	var resp aaveAmountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("lending/aave: decode %s response: %w", op, err)
	}
	v, err := gateway.ParseAmount(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("lending/aave: %s amount: %w", op, err)
	}
	return v, nil
}
