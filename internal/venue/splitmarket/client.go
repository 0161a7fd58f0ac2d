// Package splitmarket is the gateway client for the splitting market: it
// mints principal+yield claim pairs from the base asset and redeems them
// back.
package splitmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

// Client talks to a splitting-market gateway for one market address.
type Client struct {
	gw     *gateway.Client
	market common.Address
}

var _ domain.SplittingMarket = (*Client)(nil)

// New creates a splitting-market client for the market at addr.
func New(gw *gateway.Client, addr common.Address) *Client {
	return &Client{gw: gw, market: addr}
}

type splitRequest struct {
	Market          string `json:"market"`
	Amount          string `json:"amount"`
	MinPrincipalOut string `json:"min_principal_out"`
}

type splitResponse struct {
	PrincipalOut string `json:"principal_out"`
	YieldOut     string `json:"yield_out"`
}

func (c *Client) Split(ctx context.Context, amount, minPrincipalOut *big.Int) (domain.SplitResult, error) {
	req := splitRequest{
		Market:          c.market.Hex(),
		Amount:          gateway.FormatAmount(amount),
		MinPrincipalOut: gateway.FormatAmount(minPrincipalOut),
	}
	body, err := c.gw.Do(ctx, http.MethodPost, "/v1/split", req)
	if err != nil {
		return domain.SplitResult{}, fmt.Errorf("splitmarket: split: %w", err)
	}
	var resp splitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SplitResult{}, fmt.Errorf("splitmarket: decode split response: %w", err)
	}
	principal, err := gateway.ParseAmount(resp.PrincipalOut)
	if err != nil {
		return domain.SplitResult{}, fmt.Errorf("splitmarket: split principal: %w", err)
	}
	yield, err := gateway.ParseAmount(resp.YieldOut)
	if err != nil {
		return domain.SplitResult{}, fmt.Errorf("splitmarket: split yield: %w", err)
	}
	if principal.Cmp(minPrincipalOut) < 0 {
		return domain.SplitResult{}, fmt.Errorf("splitmarket: principal out %s below floor %s: %w",
			principal, minPrincipalOut, domain.ErrSlippageExceeded)
	}
	return domain.SplitResult{Principal: principal, Yield: yield}, nil
}

type redeemPairRequest struct {
	Market    string `json:"market"`
	Principal string `json:"principal"`
	Yield     string `json:"yield"`
}

type redeemResponse struct {
	BaseOut string `json:"base_out"`
}

func (c *Client) RedeemPair(ctx context.Context, principal, yield *big.Int) (*big.Int, error) {
	req := redeemPairRequest{
		Market:    c.market.Hex(),
		Principal: gateway.FormatAmount(principal),
		Yield:     gateway.FormatAmount(yield),
	}
	body, err := c.gw.Do(ctx, http.MethodPost, "/v1/redeem/pair", req)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: redeem pair: %w", err)
	}
	var resp redeemResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("splitmarket: decode redeem response: %w", err)
	}
	out, err := gateway.ParseAmount(resp.BaseOut)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: redeem pair amount: %w", err)
	}
	return out, nil
}

type redeemPrincipalRequest struct {
	Market    string `json:"market"`
	Principal string `json:"principal"`
}

func (c *Client) RedeemPrincipal(ctx context.Context, principal *big.Int) (*big.Int, error) {
	req := redeemPrincipalRequest{
		Market:    c.market.Hex(),
		Principal: gateway.FormatAmount(principal),
	}
	body, err := c.gw.Do(ctx, http.MethodPost, "/v1/redeem/principal", req)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: redeem principal: %w", err)
	}
	var resp redeemResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("splitmarket: decode redeem response: %w", err)
	}
	out, err := gateway.ParseAmount(resp.BaseOut)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: redeem principal amount: %w", err)
	}
	return out, nil
}

type quoteResponse struct {
	PrincipalOut string `json:"principal_out"`
}

func (c *Client) QuoteSplit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	path := fmt.Sprintf("/v1/quote/split?market=%s&amount=%s", c.market.Hex(), gateway.FormatAmount(amount))
	body, err := c.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: quote split: %w", err)
	}
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("splitmarket: decode quote response: %w", err)
	}
	out, err := gateway.ParseAmount(resp.PrincipalOut)
	if err != nil {
		return nil, fmt.Errorf("splitmarket: quote amount: %w", err)
	}
	return out, nil
}

type maturityResponse struct {
	Maturity int64 `json:"maturity"` // unix seconds
}

func (c *Client) Maturity(ctx context.Context) (time.Time, error) {
	path := "/v1/markets/" + c.market.Hex()
	body, err := c.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("splitmarket: maturity: %w", err)
	}
	var resp maturityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("splitmarket: decode market response: %w", err)
	}
	return time.Unix(resp.Maturity, 0).UTC(), nil
}

func (c *Client) Address() common.Address {
	return c.market
}
