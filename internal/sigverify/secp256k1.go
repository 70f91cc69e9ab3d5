package sigverify

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashMessage constructs the EIP-191 prefixed hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashMessage(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// RecoverMessage extracts the signer address from an EIP-191 signature over
// an arbitrary message. sig is R || S || V with V in {0,1} or {27,28}.
func RecoverMessage(msg []byte, sig []byte) (common.Address, error) {
	return recoverHash(HashMessage(msg), sig)
}

func recoverECDSA(digest [32]byte, raw []byte) (common.Address, error) {
	return recoverHash(digest[:], raw)
}

func recoverPersonal(digest [32]byte, raw []byte) (common.Address, error) {
	return recoverHash(HashMessage(digest[:]), raw)
}

func recoverHash(hash []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}

	// Normalize V: Ethereum uses 27/28, ecrecover expects 0/1
	sigCopy := make([]byte, crypto.SignatureLength)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	if sigCopy[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id %d", ErrMalformedSignature, sig[64])
	}

	pub, err := crypto.SigToPub(hash, sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
