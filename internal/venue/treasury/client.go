// Package treasury is the gateway client moving base-asset custody between
// an owner's funding account and the engine.
package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

// Signer produces withdrawal-intent signatures. Satisfied by crypto.Operator.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Client transfers tokens in and out of engine custody. Outbound transfers
// carry an operator signature when a signer is configured; gateways reject
// unsigned withdrawals outside read-only deployments.
type Client struct {
	gw     *gateway.Client
	signer Signer
}

var _ domain.Treasury = (*Client)(nil)

func New(gw *gateway.Client, signer Signer) *Client {
	return &Client{gw: gw, signer: signer}
}

type transferRequest struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Signature string `json:"signature,omitempty"`
}

// withdrawDigest commits to the full intent so a captured signature cannot be
// replayed against a different owner, token, or amount.
func withdrawDigest(owner, token common.Address, amount *big.Int) []byte {
	return ethcrypto.Keccak256([]byte("loopd.withdraw"), owner.Bytes(), token.Bytes(), amount.Bytes())
}

func (c *Client) Pull(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	req := transferRequest{Owner: owner.Hex(), Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	if _, err := c.gw.Do(ctx, http.MethodPost, "/v1/treasury/pull", req); err != nil {
		return fmt.Errorf("treasury: pull: %w", err)
	}
	return nil
}

func (c *Client) Push(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	req := transferRequest{Owner: owner.Hex(), Token: token.Hex(), Amount: gateway.FormatAmount(amount)}
	if c.signer != nil {
		sig, err := c.signer.Sign(withdrawDigest(owner, token, amount))
		if err != nil {
			return fmt.Errorf("treasury: sign withdrawal: %w", err)
		}
		req.Signature = hexutil.Encode(sig)
	}
	if _, err := c.gw.Do(ctx, http.MethodPost, "/v1/treasury/push", req); err != nil {
		return fmt.Errorf("treasury: push: %w", err)
	}
	return nil
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func (c *Client) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	path := "/v1/treasury/balance?token=" + token.Hex()
	body, err := c.gw.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("treasury: balance: %w", err)
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("treasury: decode balance: %w", err)
	}
	v, err := gateway.ParseAmount(resp.Balance)
	if err != nil {
		return nil, fmt.Errorf("treasury: balance amount: %w", err)
	}
	return v, nil
}
