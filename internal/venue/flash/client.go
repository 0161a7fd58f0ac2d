// Package flash is the gateway client for the flash-settled loan provider
// backing accelerated opens and closes.
package flash

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

// Client drives the gateway's open/repay/settle loan protocol. The gateway
// holds funds in escrow between open and settle; settle fails unless
// repayments cover amount plus fee, and void returns everything moved so
// far. At most one loan is outstanding per client.
type Client struct {
	gw     *gateway.Client
	feeBps int64

	mu         sync.Mutex
	activeLoan string
}

var _ domain.FlashLoanProvider = (*Client)(nil)

func New(gw *gateway.Client, feeBps int64) *Client {
	return &Client{gw: gw, feeBps: feeBps}
}

type openRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type openResponse struct {
	LoanID string `json:"loan_id"`
	Fee    string `json:"fee"`
}

type loanRequest struct {
	LoanID string `json:"loan_id"`
	Amount string `json:"amount,omitempty"`
}

func (c *Client) Flash(ctx context.Context, token common.Address, amount *big.Int, fn func(ctx context.Context, loan domain.FlashLoan) error) error {
	c.mu.Lock()
	if c.activeLoan != "" {
		c.mu.Unlock()
		return fmt.Errorf("flash: loan already outstanding: %w", domain.ErrInvalidInput)
	}
	c.mu.Unlock()

	body, err := c.gw.Do(ctx, http.MethodPost, "/v1/flash/open", openRequest{
		Token:  token.Hex(),
		Amount: gateway.FormatAmount(amount),
	})
	if err != nil {
		return fmt.Errorf("flash: open loan: %w", err)
	}
	var opened openResponse
	if err := json.Unmarshal(body, &opened); err != nil {
		return fmt.Errorf("flash: decode open response: %w", err)
	}
	fee, err := gateway.ParseAmount(opened.Fee)
	if err != nil {
		return fmt.Errorf("flash: open fee: %w", err)
	}

	c.mu.Lock()
	c.activeLoan = opened.LoanID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.activeLoan = ""
		c.mu.Unlock()
	}()

	loan := domain.FlashLoan{Token: token, Amount: new(big.Int).Set(amount), Fee: fee}
	if err := fn(ctx, loan); err != nil {
		if _, voidErr := c.gw.Do(ctx, http.MethodPost, "/v1/flash/void", loanRequest{LoanID: opened.LoanID}); voidErr != nil {
			return fmt.Errorf("flash: void after callback failure (%v): %w", err, voidErr)
		}
		return fmt.Errorf("flash: callback: %w", err)
	}

	if _, err := c.gw.Do(ctx, http.MethodPost, "/v1/flash/settle", loanRequest{LoanID: opened.LoanID}); err != nil {
		return fmt.Errorf("flash: settle: %s: %w", err, domain.ErrFlashShortfall)
	}
	return nil
}

func (c *Client) Repay(ctx context.Context, _ domain.FlashLoan, amount *big.Int) error {
	c.mu.Lock()
	loanID := c.activeLoan
	c.mu.Unlock()
	if loanID == "" {
		return fmt.Errorf("flash: no outstanding loan: %w", domain.ErrInvalidInput)
	}
	req := loanRequest{LoanID: loanID, Amount: gateway.FormatAmount(amount)}
	if _, err := c.gw.Do(ctx, http.MethodPost, "/v1/flash/repay", req); err != nil {
		return fmt.Errorf("flash: repay: %w", err)
	}
	return nil
}

func (c *Client) FeeBps() int64 {
	return c.feeBps
}
