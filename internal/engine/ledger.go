// Package engine implements the settlement core: the fill ledger, the
// precondition pipeline for executing trades, and the cancellation protocol.
package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// fillLedger holds the two persistent mappings of the protocol: cumulative
// fill per order hash and the spent flag per trade hash. It is owned
// exclusively by the Engine and is not safe for concurrent use on its own;
// the Engine's mutex serializes every access. Entries are never deleted.
type fillLedger struct {
	fills map[common.Hash]*big.Int
	spent map[common.Hash]bool
}

func newFillLedger() *fillLedger {
	return &fillLedger{
		fills: make(map[common.Hash]*big.Int),
		spent: make(map[common.Hash]bool),
	}
}

// filled returns the cumulative filled amount for an order hash. Unwritten
// entries are implicitly zero. The returned value is a copy.
func (l *fillLedger) filled(orderHash common.Hash) *big.Int {
	if v, ok := l.fills[orderHash]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// addFill increases the cumulative fill for an order hash and returns the
// new total. Monotonicity is the caller's invariant: the engine only calls
// this after the capacity check.
func (l *fillLedger) addFill(orderHash common.Hash, amount *big.Int) *big.Int {
	next := new(big.Int).Add(l.filled(orderHash), amount)
	l.fills[orderHash] = next
	return new(big.Int).Set(next)
}

// saturate sets the fill for an order hash to the order's full capacity.
// Saturation is how cancellation zeroes the remaining capacity; it never
// lowers an existing fill.
func (l *fillLedger) saturate(orderHash common.Hash, amountBuy *big.Int) *big.Int {
	cur := l.filled(orderHash)
	if cur.Cmp(amountBuy) >= 0 {
		return cur
	}
	next := new(big.Int).Set(amountBuy)
	l.fills[orderHash] = next
	return new(big.Int).Set(next)
}

// isSpent reports whether a trade hash has been settled or cancelled.
func (l *fillLedger) isSpent(tradeHash common.Hash) bool {
	return l.spent[tradeHash]
}

// markSpent flags a trade hash. The flag is sticky; there is no unmark.
func (l *fillLedger) markSpent(tradeHash common.Hash) {
	l.spent[tradeHash] = true
}

// hydrate replaces the ledger content with a persisted snapshot.
func (l *fillLedger) hydrate(state domain.LedgerState) {
	l.fills = make(map[common.Hash]*big.Int, len(state.Fills))
	for h, v := range state.Fills {
		l.fills[h] = new(big.Int).Set(v)
	}
	l.spent = make(map[common.Hash]bool, len(state.Spent))
	for h, v := range state.Spent {
		if v {
			l.spent[h] = true
		}
	}
}
