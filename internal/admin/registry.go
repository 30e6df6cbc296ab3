// Package admin implements the administrative-control collaborator: owner
// and operator roles plus the fee-account designation. The engine consumes
// it only as an authorization predicate; role management never touches the
// fill ledger.
package admin

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// Registry is a domain.Authorizer seeded from configuration. The owner may
// add and remove operators and redirect the fee account at runtime.
type Registry struct {
	mu         sync.RWMutex
	owner      common.Address
	operators  map[common.Address]bool
	feeAccount common.Address
}

// NewRegistry creates a Registry with the given owner, fee account, and
// initial operator set.
func NewRegistry(owner, feeAccount common.Address, operators []common.Address) *Registry {
	ops := make(map[common.Address]bool, len(operators))
	for _, op := range operators {
		ops[op] = true
	}
	return &Registry{
		owner:      owner,
		operators:  ops,
		feeAccount: feeAccount,
	}
}

// IsOwner reports whether addr is the registry owner.
func (r *Registry) IsOwner(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return addr == r.owner
}

// IsOperator reports whether addr is a registered operator.
func (r *Registry) IsOperator(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[addr]
}

// FeeAccount returns the current protocol fee recipient.
func (r *Registry) FeeAccount() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeAccount
}

// AddOperator registers addr as an operator. Only the owner may call it.
func (r *Registry) AddOperator(caller, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return fmt.Errorf("admin: add operator %s: %w", addr, domain.ErrUnauthorized)
	}
	r.operators[addr] = true
	return nil
}

// RemoveOperator deregisters addr. Only the owner may call it.
func (r *Registry) RemoveOperator(caller, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return fmt.Errorf("admin: remove operator %s: %w", addr, domain.ErrUnauthorized)
	}
	delete(r.operators, addr)
	return nil
}

// SetFeeAccount redirects protocol fees. Only the owner may call it.
func (r *Registry) SetFeeAccount(caller, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return fmt.Errorf("admin: set fee account %s: %w", addr, domain.ErrUnauthorized)
	}
	r.feeAccount = addr
	return nil
}

// Compile-time interface check.
var _ domain.Authorizer = (*Registry)(nil)
