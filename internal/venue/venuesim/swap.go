package venuesim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// Swap simulates an exact-in router with fixed per-pair rates.
type Swap struct {
	mu     sync.Mutex
	bank   *Bank
	router common.Address
	rates  map[[2]common.Address]int64 // out per 10000 in
}

var _ domain.SwapVenue = (*Swap)(nil)

func NewSwap(bank *Bank, router common.Address) *Swap {
	return &Swap{bank: bank, router: router, rates: make(map[[2]common.Address]int64)}
}

// SetRate fixes the tokenIn→tokenOut rate in bps of output per unit input.
func (s *Swap) SetRate(tokenIn, tokenOut common.Address, rateBps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[[2]common.Address{tokenIn, tokenOut}] = rateBps
}

func (s *Swap) SwapExact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	s.mu.Lock()
	rate, ok := s.rates[[2]common.Address{tokenIn, tokenOut}]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("venuesim: no route %s -> %s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrVenueCall)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	out := mulBps(amountIn, rate)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("venuesim: swap out %s below floor %s: %w", out, minOut, domain.ErrSlippageExceeded)
	}
	if err := s.bank.Debit(tokenIn, amountIn); err != nil {
		return nil, err
	}
	s.bank.Credit(tokenOut, out)
	return out, nil
}

func (s *Swap) Router() common.Address {
	return s.router
}
