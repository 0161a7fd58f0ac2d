package venuesim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// FlashProvider simulates a flash-settled lender with unlimited inventory.
// Funds are credited to engine custody for the duration of the callback and
// the whole loan is voided unless repayments cover amount plus fee.
type FlashProvider struct {
	mu     sync.Mutex
	bank   *Bank
	feeBps int64

	active bool
	repaid *big.Int
}

var _ domain.FlashLoanProvider = (*FlashProvider)(nil)

func NewFlashProvider(bank *Bank, feeBps int64) *FlashProvider {
	return &FlashProvider{bank: bank, feeBps: feeBps}
}

func (p *FlashProvider) Flash(ctx context.Context, token common.Address, amount *big.Int, fn func(ctx context.Context, loan domain.FlashLoan) error) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("venuesim: flash amount must be positive: %w", domain.ErrInvalidInput)
	}
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return fmt.Errorf("venuesim: flash loan already outstanding: %w", domain.ErrInvalidInput)
	}
	p.active = true
	p.repaid = big.NewInt(0)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active = false
		p.repaid = nil
		p.mu.Unlock()
	}()

	fee := mulBps(amount, p.feeBps)
	loan := domain.FlashLoan{Token: token, Amount: new(big.Int).Set(amount), Fee: fee}
	p.bank.Credit(token, amount)

	if err := fn(ctx, loan); err != nil {
		p.void(token, amount)
		return fmt.Errorf("venuesim: flash callback: %w", err)
	}

	owed := new(big.Int).Add(amount, fee)
	p.mu.Lock()
	repaid := new(big.Int).Set(p.repaid)
	p.mu.Unlock()
	if repaid.Cmp(owed) < 0 {
		p.void(token, amount)
		return fmt.Errorf("venuesim: repaid %s of %s owed: %w", repaid, owed, domain.ErrFlashShortfall)
	}
	return nil
}

func (p *FlashProvider) Repay(ctx context.Context, loan domain.FlashLoan, amount *big.Int) error {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active {
		return fmt.Errorf("venuesim: no outstanding flash loan: %w", domain.ErrInvalidInput)
	}
	if err := p.bank.Debit(loan.Token, amount); err != nil {
		return err
	}
	p.mu.Lock()
	p.repaid.Add(p.repaid, amount)
	p.mu.Unlock()
	return nil
}

func (p *FlashProvider) FeeBps() int64 {
	return p.feeBps
}

// void reverses the loan principal and returns any partial repayments to
// engine custody, as a real provider's transaction revert would.
func (p *FlashProvider) void(token common.Address, amount *big.Int) {
	p.mu.Lock()
	repaid := new(big.Int).Set(p.repaid)
	p.mu.Unlock()
	p.bank.Credit(token, repaid)
	// best effort: the principal may already be partly spent by the
	// failed callback; claw back what remains.
	remaining := p.bank.Balance(token)
	claw := new(big.Int).Set(amount)
	if claw.Cmp(remaining) > 0 {
		claw.Set(remaining)
	}
	_ = p.bank.Debit(token, claw)
}
