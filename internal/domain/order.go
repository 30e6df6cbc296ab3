// Package domain defines the core types of the settlement engine: orders,
// trades, settlement results, ledger events, and the interfaces through which
// the engine talks to stores, caches, and external collaborators.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a maker-signed offer to exchange a fixed amount of TokenSell for a
// fixed amount of TokenBuy, valid up to and including the Expires block.
// Orders are immutable once signed; they are identified solely by their hash.
type Order struct {
	TokenBuy   common.Address
	AmountBuy  *big.Int
	TokenSell  common.Address
	AmountSell *big.Int
	Expires    uint64 // block height, inclusive upper bound
	Nonce      uint64
	Maker      common.Address
	FeeMake    *big.Int // fee paid by the maker, in fee-token units
	FeeTake    *big.Int // fee paid by the taker, in fee-token units
}

// WellFormed reports whether the order's numeric fields are present and
// non-negative. Malformed orders are rejected, never treated as faults.
func (o Order) WellFormed() bool {
	for _, n := range []*big.Int{o.AmountBuy, o.AmountSell, o.FeeMake, o.FeeTake} {
		if n == nil || n.Sign() < 0 {
			return false
		}
	}
	return o.AmountBuy.Sign() > 0 && o.AmountSell.Sign() > 0
}

// Trade is a taker-signed request to fill Amount units of a specific order.
// Amount is denominated in Order.AmountBuy units.
type Trade struct {
	OrderHash  common.Hash
	Amount     *big.Int
	TradeNonce uint64
	Taker      common.Address
}

// WellFormed reports whether the trade's fill amount is present and positive.
func (t Trade) WellFormed() bool {
	return t.Amount != nil && t.Amount.Sign() > 0
}

// Signature is a 65-byte secp256k1 signature in r || s || v layout. The
// recovery byte v is accepted as 27/28 or 0/1.
type Signature []byte

// Submission pairs an order with a trade and both counterparty signatures,
// ready for settlement or a dry-run probe.
type Submission struct {
	Order    Order
	Trade    Trade
	MakerSig Signature
	TakerSig Signature
}
