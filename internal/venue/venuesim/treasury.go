package venuesim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// Treasury moves custody between owner funding accounts and the engine
// inside the shared Bank.
type Treasury struct {
	bank *Bank
}

var _ domain.Treasury = (*Treasury)(nil)

func NewTreasury(bank *Bank) *Treasury {
	return &Treasury{bank: bank}
}

func (t *Treasury) Pull(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("venuesim: pull amount must be positive: %w", domain.ErrInvalidInput)
	}
	if err := t.bank.ownerDebit(owner, token, amount); err != nil {
		return err
	}
	t.bank.Credit(token, amount)
	return nil
}

func (t *Treasury) Push(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("venuesim: push amount must be positive: %w", domain.ErrInvalidInput)
	}
	if err := t.bank.Debit(token, amount); err != nil {
		return err
	}
	t.bank.ownerCredit(owner, token, amount)
	return nil
}

func (t *Treasury) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	return t.bank.Balance(token), nil
}
