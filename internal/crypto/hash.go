// Package crypto provides order and trade hashing, secp256k1 signature
// recovery, and key management for the settlement engine.
package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tradewire/settled/internal/domain"
)

// OrderHash computes the canonical digest of an order, domain-separated by
// the engine instance address so a signature can never be replayed against a
// different deployment. The layout is fixed and tightly packed:
//
//	engine(20) || tokenBuy(20) || amountBuy(32) || tokenSell(20) ||
//	amountSell(32) || expires(32) || nonce(32) || maker(20) ||
//	feeMake(32) || feeTake(32)
//
// Big integers are big-endian, left-padded to 32 bytes.
func OrderHash(engine common.Address, o domain.Order) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			engine.Bytes(),
			o.TokenBuy.Bytes(),
			bigIntTo32Bytes(o.AmountBuy),
			o.TokenSell.Bytes(),
			bigIntTo32Bytes(o.AmountSell),
			uint64To32Bytes(o.Expires),
			uint64To32Bytes(o.Nonce),
			o.Maker.Bytes(),
			bigIntTo32Bytes(o.FeeMake),
			bigIntTo32Bytes(o.FeeTake),
		),
	))
}

// TradeHash computes the canonical digest of a trade against the order hash
// it references:
//
//	orderHash(32) || amount(32) || tradeNonce(32) || taker(20)
func TradeHash(t domain.Trade) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			t.OrderHash.Bytes(),
			bigIntTo32Bytes(t.Amount),
			uint64To32Bytes(t.TradeNonce),
			t.Taker.Bytes(),
		),
	))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
// A nil value encodes as zero so hashing stays total over partially built
// structures; well-formedness is enforced at the engine boundary.
func bigIntTo32Bytes(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// uint64To32Bytes returns a 32-byte big-endian representation of n.
func uint64To32Bytes(n uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(n))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
