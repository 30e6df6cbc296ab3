package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer is one leg of a settlement: amount of token moved from one owner
// to another on behalf of the engine.
type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// TokenLedger is the token custody collaborator. The engine never holds
// funds; all balances and allowances live behind this interface, and the
// engine moves funds only with itself as the spender. TransferBatch applies
// all legs as one indivisible step: either every leg is applied or none is,
// even when the ledger's state is mutated concurrently by other callers.
type TokenLedger interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	TransferBatch(ctx context.Context, transfers []Transfer) error
}

// Authorizer is the administrative-control collaborator consumed by the
// settlement and cancellation paths purely as an authorization predicate.
type Authorizer interface {
	IsOwner(addr common.Address) bool
	IsOperator(addr common.Address) bool
	FeeAccount() common.Address
}

// BlockClock supplies the monotonic block counter used for order expiry.
// There is no other notion of time inside the engine.
type BlockClock interface {
	Height() uint64
}
