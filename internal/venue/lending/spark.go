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

// Spark adapts the spark gateway. The account model matches the pooled
// aave shape, but the gateway exposes its own paths and reports debt split
// into stable and variable tranches which are summed here.
type Spark struct {
	gw *gateway.Client
}

var _ domain.LendingVenue = (*Spark)(nil)

func NewSpark(gw *gateway.Client) *Spark {
	return &Spark{gw: gw}
}

type sparkAmountRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type sparkAmountResponse struct {
	Amount string `json:"amount"`
}

func (s *Spark) Supply(ctx context.Context, token common.Address, amount *big.Int) error {
	req := sparkAmountRequest{Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	if _, err := s.gw.Do(ctx, http.MethodPost, "/v1/spark/deposit", req); err != nil {
		return fmt.Errorf("lending/spark: deposit: %w", err)
	}
	return nil
}

func (s *Spark) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := sparkAmountRequest{Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := s.gw.Do(ctx, http.MethodPost, "/v1/spark/withdraw", req)
	if err != nil {
		return nil, fmt.Errorf("lending/spark: withdraw: %w", err)
	}
	return s.decodeAmount(body, "withdraw")
}

func (s *Spark) MaxWithdrawable(ctx context.Context, token common.Address) (*big.Int, error) {
	path := "/v1/spark/max-withdrawable?token=" + token.Hex()
	body, err := s.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("lending/spark: max withdrawable: %w", err)
	}
	return s.decodeAmount(body, "max withdrawable")
}

func (s *Spark) Borrow(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := sparkAmountRequest{Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := s.gw.Do(ctx, http.MethodPost, "/v1/spark/borrow", req)
	if err != nil {
		return nil, fmt.Errorf("lending/spark: borrow: %w", err)
	}
	return s.decodeAmount(body, "borrow")
}

func (s *Spark) Repay(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	req := sparkAmountRequest{Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	body, err := s.gw.Do(ctx, http.MethodPost, "/v1/spark/repay", req)
	if err != nil {
		return nil, fmt.Errorf("lending/spark: repay: %w", err)
	}
	return s.decodeAmount(body, "repay")
}

type sparkAccountResponse struct {
	CollateralBase   string `json:"collateral_base"`
	StableDebtBase   string `json:"stable_debt_base"`
	VariableDebtBase string `json:"variable_debt_base"`
}

func (s *Spark) AccountHealth(ctx context.Context) (domain.AccountHealth, error) {
	body, err := s.gw.Do(ctx, http.MethodGet, "/v1/spark/account", nil)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/spark: account: %w", err)
	}
	var resp sparkAccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/spark: decode account: %w", err)
	}
	collateral, err := gateway.ParseAmount(resp.CollateralBase)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/spark: account collateral: %w", err)
	}
	stable, err := gateway.ParseAmount(resp.StableDebtBase)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/spark: account stable debt: %w", err)
	}
	variable, err := gateway.ParseAmount(resp.VariableDebtBase)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/spark: account variable debt: %w", err)
	}
	debt := new(big.Int).Add(stable, variable)
	return domain.AccountHealth{
		CollateralValue: collateral,
		DebtValue:       debt,
		HealthRatio:     healthRatio(collateral, debt),
	}, nil
}

func (s *Spark) Name() string { return VenueSpark }

func (s *Spark) decodeAmount(body []byte, op string) (*big.Int, error) {
	var resp sparkAmountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("lending/spark: decode %s response: %w", op, err)
	}
	v, err := gateway.ParseAmount(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("lending/spark: %s amount: %w", op, err)
	}
	return v, nil
}
