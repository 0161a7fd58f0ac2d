// Package venuesim provides in-memory venue implementations for sim mode
// and tests. All sims settle through a shared Bank so token conservation
// holds across split, lend, swap, and flash legs the same way it would
// across real venues.
package venuesim

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// Bank tracks engine custody and per-owner funding balances.
type Bank struct {
	mu     sync.Mutex
	engine map[common.Address]*big.Int
	owners map[common.Address]map[common.Address]*big.Int
}

func NewBank() *Bank {
	return &Bank{
		engine: make(map[common.Address]*big.Int),
		owners: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Credit adds amount of token to engine custody.
func (b *Bank) Credit(token common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine[token] = addTo(b.engine[token], amount)
}

// Debit removes amount of token from engine custody, failing if the
// balance is insufficient.
func (b *Bank) Debit(token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.engine[token]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("venuesim: insufficient engine balance of %s: have %s want %s: %w",
			token.Hex(), zeroIfNil(cur), amount, domain.ErrVenueCall)
	}
	b.engine[token] = new(big.Int).Sub(cur, amount)
	return nil
}

// Balance reports engine custody of token.
func (b *Bank) Balance(token common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return zeroIfNil(b.engine[token])
}

// FundOwner seeds an owner's funding account, for test and sim setup.
func (b *Bank) FundOwner(owner, token common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.owners[owner]
	if acct == nil {
		acct = make(map[common.Address]*big.Int)
		b.owners[owner] = acct
	}
	acct[token] = addTo(acct[token], amount)
}

// OwnerBalance reports an owner's funding balance of token.
func (b *Bank) OwnerBalance(owner, token common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return zeroIfNil(b.owners[owner][token])
}

func (b *Bank) ownerDebit(owner, token common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.owners[owner][token]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("venuesim: insufficient owner balance of %s: have %s want %s: %w",
			token.Hex(), zeroIfNil(cur), amount, domain.ErrVenueCall)
	}
	b.owners[owner][token] = new(big.Int).Sub(cur, amount)
	return nil
}

func (b *Bank) ownerCredit(owner, token common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.owners[owner]
	if acct == nil {
		acct = make(map[common.Address]*big.Int)
		b.owners[owner] = acct
	}
	acct[token] = addTo(acct[token], amount)
}

func addTo(cur, amount *big.Int) *big.Int {
	if cur == nil {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Add(cur, amount)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// mulBps returns v*bps/10000 rounded down.
func mulBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Quo(out, big.NewInt(10_000))
}
