package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tradewire/settled/internal/domain"
)

// signedMessageDigest applies the eth personal-sign envelope to a 32-byte
// digest. Wallet tooling signs this form, so recovery must reconstruct it.
func signedMessageDigest(digest common.Hash) []byte {
	return ethcrypto.Keccak256(
		[]byte("\x19Ethereum Signed Message:\n32"),
		digest.Bytes(),
	)
}

// RecoverSigner recovers the address that signed the given digest. It never
// returns an error: malformed signatures (wrong length, bad recovery id,
// failed curve-point recovery) yield (zero address, false), so verification
// failures stay data rather than faults and callers can probe settleability
// without aborting.
func RecoverSigner(digest common.Hash, sig domain.Signature) (common.Address, bool) {
	if len(sig) != 65 {
		return common.Address{}, false
	}

	// go-ethereum expects the recovery id in {0,1}; wallets emit {27,28}.
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, false
	}

	pub, err := ethcrypto.SigToPub(signedMessageDigest(digest), norm)
	if err != nil {
		return common.Address{}, false
	}
	return ethcrypto.PubkeyToAddress(*pub), true
}

// Signer holds a secp256k1 private key and produces order and trade
// signatures in the format RecoverSigner accepts. It is used by client
// tooling and tests; the engine itself never signs anything.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest under the personal-sign envelope and
// returns a 65-byte r || s || v signature with v in {27,28}.
func (s *Signer) SignDigest(digest common.Hash) (domain.Signature, error) {
	sig, err := ethcrypto.Sign(signedMessageDigest(digest), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return domain.Signature(sig), nil
}

// SignOrder signs the canonical order digest for the given engine instance.
func (s *Signer) SignOrder(engine common.Address, o domain.Order) (domain.Signature, error) {
	return s.SignDigest(OrderHash(engine, o))
}

// SignTrade signs the canonical trade digest.
func (s *Signer) SignTrade(t domain.Trade) (domain.Signature, error) {
	return s.SignDigest(TradeHash(t))
}
