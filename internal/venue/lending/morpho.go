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

// Morpho adapts an isolated-market morpho-style gateway. Collateral and
// debt live in a single market identified by marketID; the position endpoint
// reports both sides and health is computed here rather than by the gateway.
type Morpho struct {
	gw       *gateway.Client
	marketID string
}

var _ domain.LendingVenue = (*Morpho)(nil)

func NewMorpho(gw *gateway.Client, marketID string) *Morpho {
	return &Morpho{gw: gw, marketID: marketID}
}

type morphoAssetsRequest struct {
	MarketID string `json:"market_id"`
	Assets   string `json:"assets"`
}

type morphoAssetsResponse struct {
	Assets string `json:"assets"`
}

func (m *Morpho) Supply(ctx context.Context, _ common.Address, amount *big.Int) error {
	req := morphoAssetsRequest{MarketID: m.marketID, Assets: gateway.FormatAmount(amount)}
	if _, err := m.gw.Do(ctx, http.MethodPost, "/v1/morpho/supply-collateral", req); err != nil {
		return fmt.Errorf("lending/morpho: supply collateral: %w", err)
	}
	return nil
}

func (m *Morpho) Withdraw(ctx context.Context, _ common.Address, amount *big.Int) (*big.Int, error) {
	req := morphoAssetsRequest{MarketID: m.marketID, Assets: gateway.FormatAmount(amount)}
	body, err := m.gw.Do(ctx, http.MethodPost, "/v1/morpho/withdraw-collateral", req)
	if err != nil {
		return nil, fmt.Errorf("lending/morpho: withdraw collateral: %w", err)
	}
	return m.decodeAssets(body, "withdraw")
}

func (m *Morpho) MaxWithdrawable(ctx context.Context, _ common.Address) (*big.Int, error) {
	path := "/v1/morpho/max-withdrawable?market_id=" + m.marketID
	body, err := m.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("lending/morpho: max withdrawable: %w", err)
	}
	return m.decodeAssets(body, "max withdrawable")
}

func (m *Morpho) Borrow(ctx context.Context, _ common.Address, amount *big.Int) (*big.Int, error) {
	req := morphoAssetsRequest{MarketID: m.marketID, Assets: gateway.FormatAmount(amount)}
	body, err := m.gw.Do(ctx, http.MethodPost, "/v1/morpho/borrow", req)
	if err != nil {
		return nil, fmt.Errorf("lending/morpho: borrow: %w", err)
	}
	return m.decodeAssets(body, "borrow")
}

func (m *Morpho) Repay(ctx context.Context, _ common.Address, amount *big.Int) (*big.Int, error) {
	req := morphoAssetsRequest{MarketID: m.marketID, Assets: gateway.FormatAmount(amount)}
	body, err := m.gw.Do(ctx, http.MethodPost, "/v1/morpho/repay", req)
	if err != nil {
		return nil, fmt.Errorf("lending/morpho: repay: %w", err)
	}
	return m.decodeAssets(body, "repay")
}

type morphoPositionResponse struct {
	CollateralValue string `json:"collateral_value"`
	BorrowAssets    string `json:"borrow_assets"`
}

func (m *Morpho) AccountHealth(ctx context.Context) (domain.AccountHealth, error) {
	path := "/v1/morpho/position?market_id=" + m.marketID
	body, err := m.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/morpho: position: %w", err)
	}
	var resp morphoPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/morpho: decode position: %w", err)
	}
	collateral, err := gateway.ParseAmount(resp.CollateralValue)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/morpho: position collateral: %w", err)
	}
	debt, err := gateway.ParseAmount(resp.BorrowAssets)
	if err != nil {
		return domain.AccountHealth{}, fmt.Errorf("lending/morpho: position debt: %w", err)
	}
	return domain.AccountHealth{
		CollateralValue: collateral,
		DebtValue:       debt,
		HealthRatio:     healthRatio(collateral, debt),
	}, nil
}

func (m *Morpho) Name() string { return VenueMorpho }

func (m *Morpho) decodeAssets(body []byte, op string) (*big.Int, error) {
	var resp morphoAssetsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("lending/morpho: decode %s response: %w", op, err)
	}
	v, err := gateway.ParseAmount(resp.Assets)
	if err != nil {
		return nil, fmt.Errorf("lending/morpho: %s assets: %w", op, err)
	}
	return v, nil
}
