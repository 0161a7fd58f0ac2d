// Package swap is the gateway client for the swap router used to unload
// yield claims and, when pairs cannot be matched, principal claims.
package swap

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

// Client executes exact-in swaps through a single approved router.
type Client struct {
	gw     *gateway.Client
	router common.Address
}

var _ domain.SwapVenue = (*Client)(nil)

func New(gw *gateway.Client, router common.Address) *Client {
	return &Client{gw: gw, router: router}
}

type swapRequest struct {
	Router   string `json:"router"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	AmountIn string `json:"amount_in"`
	MinOut   string `json:"min_out"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
}

func (c *Client) SwapExact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	req := swapRequest{
		Router:   c.router.Hex(),
		TokenIn:  tokenIn.Hex(),
		TokenOut: tokenOut.Hex(),
		AmountIn: gateway.FormatAmount(amountIn),
		MinOut:   gateway.FormatAmount(minOut),
	}
	body, err := c.gw.Do(ctx, http.MethodPost, "/v1/swap", req)
	if err != nil {
		return nil, fmt.Errorf("swap: exact in: %w", err)
	}
	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("swap: decode response: %w", err)
	}
	out, err := gateway.ParseAmount(resp.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("swap: amount out: %w", err)
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("swap: out %s below floor %s: %w", out, minOut, domain.ErrSlippageExceeded)
	}
	return out, nil
}

func (c *Client) Router() common.Address {
	return c.router
}
