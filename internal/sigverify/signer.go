package sigverify

import (
	"crypto/ecdsa"
	"crypto/ed25519"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces complete signature blobs for one method.
type Signer interface {
	Method() Method
	Address() common.Address
	Sign(digest [32]byte) ([]byte, error)
}

type ecdsaSigner struct {
	key      *ecdsa.PrivateKey
	personal bool
}

// NewECDSASigner signs the digest directly (method 0).
func NewECDSASigner(key *ecdsa.PrivateKey) Signer {
	return &ecdsaSigner{key: key}
}

// NewPersonalSigner signs the EIP-191 hash of the digest (method 1), the way
// wallets sign through personal_sign.
func NewPersonalSigner(key *ecdsa.PrivateKey) Signer {
	return &ecdsaSigner{key: key, personal: true}
}

func (s *ecdsaSigner) Method() Method {
	if s.personal {
		return MethodPersonal
	}
	return MethodECDSA
}

func (s *ecdsaSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *ecdsaSigner) Sign(digest [32]byte) ([]byte, error) {
	hash := digest[:]
	if s.personal {
		hash = HashMessage(digest[:])
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	return Encode(s.Method(), sig), nil
}

type ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer signs with an Ed25519 key (method 2).
func NewEd25519Signer(key ed25519.PrivateKey) Signer {
	return &ed25519Signer{key: key}
}

func (s *ed25519Signer) Method() Method { return MethodEd25519 }

func (s *ed25519Signer) Address() common.Address {
	return Ed25519Address(s.key.Public().(ed25519.PublicKey))
}

func (s *ed25519Signer) Sign(digest [32]byte) ([]byte, error) {
	pub := s.key.Public().(ed25519.PublicKey)
	raw := make([]byte, 0, ed25519RawLength)
	raw = append(raw, pub...)
	raw = append(raw, ed25519.Sign(s.key, digest[:])...)
	return Encode(MethodEd25519, raw), nil
}
