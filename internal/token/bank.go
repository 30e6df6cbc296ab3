// Package token models the external token custody collaborator: an
// in-memory balance and allowance ledger for arbitrary token identifiers,
// including the wrapped-native-asset token used for fees. The settlement
// engine moves funds exclusively through TransferFrom with itself as the
// approved spender; the bank never initiates anything.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// Bank is an in-memory domain.TokenLedger. All operations are safe for
// concurrent use; each call is a single indivisible step.
type Bank struct {
	mu       sync.RWMutex
	spender  common.Address
	balances map[common.Address]map[common.Address]*big.Int // token -> owner
	allowed  map[common.Address]map[common.Address]*big.Int // token -> owner, granted to spender
}

// NewBank creates a Bank whose allowances are granted to the given spender
// (the settlement engine address).
func NewBank(spender common.Address) *Bank {
	return &Bank{
		spender:  spender,
		balances: make(map[common.Address]map[common.Address]*big.Int),
		allowed:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount of token to owner. Used to seed the modeled custody
// state from configuration or the admin API.
func (b *Bank) Mint(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: mint: %w", domain.ErrInvalidSubmission)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.get(b.balances, token, owner)
	b.set(b.balances, token, owner, new(big.Int).Add(cur, amount))
	return nil
}

// Approve sets the allowance owner grants the bank's configured spender for
// the given token. It overwrites any prior allowance, ERC20-style.
func (b *Bank) Approve(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: approve: %w", domain.ErrInvalidSubmission)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(b.allowed, token, owner, new(big.Int).Set(amount))
	return nil
}

// BalanceOf returns owner's balance of token. Unknown pairs are zero.
func (b *Bank) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.get(b.balances, token, owner)), nil
}

// Allowance returns the amount owner has authorized spender to move.
// Allowances are only tracked for the bank's configured spender; any other
// spender has zero.
func (b *Bank) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if spender != b.spender {
		return new(big.Int), nil
	}
	return new(big.Int).Set(b.get(b.allowed, token, owner)), nil
}

// TransferFrom moves amount of token from one owner to another on behalf of
// the configured spender, consuming allowance. It fails without any state
// change when balance or allowance is insufficient.
func (b *Bank) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: transfer from %s: %w", from, domain.ErrInvalidSubmission)
	}
	if amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.get(b.balances, token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s of %s from %s: %w", amount, token, from, domain.ErrInsufficientFunds)
	}
	allow := b.get(b.allowed, token, from)
	if allow.Cmp(amount) < 0 {
		return fmt.Errorf("token: allowance %s of %s from %s: %w", amount, token, from, domain.ErrInsufficientFunds)
	}

	b.set(b.balances, token, from, new(big.Int).Sub(bal, amount))
	b.set(b.allowed, token, from, new(big.Int).Sub(allow, amount))
	toBal := b.get(b.balances, token, to)
	b.set(b.balances, token, to, new(big.Int).Add(toBal, amount))
	return nil
}

// TransferBatch applies every leg as one indivisible step under a single
// lock: all debits are validated against current balances and allowances,
// aggregated per (token, owner), before any leg is applied. A failed
// validation leaves the bank untouched, so a concurrent Approve between a
// caller's own funds check and the batch can only reject the batch as a
// whole, never leave it half-applied.
func (b *Bank) TransferBatch(ctx context.Context, transfers []domain.Transfer) error {
	for _, tr := range transfers {
		if tr.Amount == nil || tr.Amount.Sign() < 0 {
			return fmt.Errorf("token: transfer batch from %s: %w", tr.From, domain.ErrInvalidSubmission)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	type debit struct {
		token common.Address
		owner common.Address
	}
	required := make(map[debit]*big.Int)
	for _, tr := range transfers {
		if tr.Amount.Sign() == 0 {
			continue
		}
		key := debit{token: tr.Token, owner: tr.From}
		if cur, ok := required[key]; ok {
			required[key] = new(big.Int).Add(cur, tr.Amount)
		} else {
			required[key] = new(big.Int).Set(tr.Amount)
		}
	}

	for key, amount := range required {
		if b.get(b.balances, key.token, key.owner).Cmp(amount) < 0 {
			return fmt.Errorf("token: batch balance %s of %s from %s: %w", amount, key.token, key.owner, domain.ErrInsufficientFunds)
		}
		if b.get(b.allowed, key.token, key.owner).Cmp(amount) < 0 {
			return fmt.Errorf("token: batch allowance %s of %s from %s: %w", amount, key.token, key.owner, domain.ErrInsufficientFunds)
		}
	}

	for _, tr := range transfers {
		if tr.Amount.Sign() == 0 {
			continue
		}
		bal := b.get(b.balances, tr.Token, tr.From)
		b.set(b.balances, tr.Token, tr.From, new(big.Int).Sub(bal, tr.Amount))
		allow := b.get(b.allowed, tr.Token, tr.From)
		b.set(b.allowed, tr.Token, tr.From, new(big.Int).Sub(allow, tr.Amount))
		toBal := b.get(b.balances, tr.Token, tr.To)
		b.set(b.balances, tr.Token, tr.To, new(big.Int).Add(toBal, tr.Amount))
	}
	return nil
}

// get returns the stored value for (token, owner), or zero. Callers must
// hold the mutex and must not mutate the returned value.
func (b *Bank) get(m map[common.Address]map[common.Address]*big.Int, token, owner common.Address) *big.Int {
	if byOwner, ok := m[token]; ok {
		if v, ok := byOwner[owner]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *Bank) set(m map[common.Address]map[common.Address]*big.Int, token, owner common.Address, v *big.Int) {
	byOwner, ok := m[token]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		m[token] = byOwner
	}
	byOwner[owner] = v
}

// Compile-time interface check.
var _ domain.TokenLedger = (*Bank)(nil)
