package sigverify

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const ed25519RawLength = ed25519.PublicKeySize + ed25519.SignatureSize

// Ed25519Address derives the 20-byte identity of an Ed25519 public key:
// the low 20 bytes of keccak256(pub).
func Ed25519Address(pub ed25519.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}

func recoverEd25519(digest [32]byte, raw []byte) (common.Address, error) {
	if len(raw) != ed25519RawLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, ed25519RawLength, len(raw))
	}
	pub := ed25519.PublicKey(raw[:ed25519.PublicKeySize])
	if !ed25519.Verify(pub, digest[:], raw[ed25519.PublicKeySize:]) {
		return common.Address{}, ErrInvalidSignature
	}
	return Ed25519Address(pub), nil
}
