// Package sigverify recovers the signer identity of a payment order digest.
//
// A signature blob is a one-byte method tag followed by the method's raw
// signature bytes. Each method maps (digest, raw) to a 20-byte address.
package sigverify

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Method tags the signature scheme in the first byte of a blob.
type Method uint8

const (
	MethodECDSA    Method = 0 // secp256k1 R || S || V over the digest
	MethodPersonal Method = 1 // secp256k1 over the EIP-191 hash of the digest
	MethodEd25519  Method = 2 // pubkey(32) || sig(64)
)

var (
	ErrUnknownMethod      = errors.New("sigverify: unknown signature method")
	ErrMalformedSignature = errors.New("sigverify: malformed signature")
	ErrInvalidSignature   = errors.New("sigverify: signature does not verify")
)

var methodNames = map[Method]string{
	MethodECDSA:    "ecdsa",
	MethodPersonal: "personal",
	MethodEd25519:  "ed25519",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// ParseMethod resolves a configured method name such as "ed25519".
func ParseMethod(name string) (Method, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Verifier recovers the identity that produced raw over digest.
type Verifier interface {
	Recover(digest [32]byte, raw []byte) (common.Address, error)
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(digest [32]byte, raw []byte) (common.Address, error)

func (f VerifierFunc) Recover(digest [32]byte, raw []byte) (common.Address, error) {
	return f(digest, raw)
}

// Registry dispatches blobs to the verifier registered for their tag.
// Unregistered and disabled tags fail closed.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[Method]Verifier
	disabled  map[Method]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		verifiers: make(map[Method]Verifier),
		disabled:  make(map[Method]bool),
	}
}

// DefaultRegistry returns a registry with the ECDSA, personal and Ed25519
// methods installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(MethodECDSA, VerifierFunc(recoverECDSA))
	r.Register(MethodPersonal, VerifierFunc(recoverPersonal))
	r.Register(MethodEd25519, VerifierFunc(recoverEd25519))
	return r
}

// Register installs v under m, replacing any previous verifier and
// re-enabling the tag.
func (r *Registry) Register(m Method, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[m] = v
	delete(r.disabled, m)
}

// Disable makes blobs tagged m fail with ErrUnknownMethod.
func (r *Registry) Disable(m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[m] = true
}

// Enabled reports whether blobs tagged m can be verified.
func (r *Registry) Enabled(m Method) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.verifiers[m]
	return ok && !r.disabled[m]
}

// Recover splits blob into tag and raw bytes and runs the matching verifier.
func (r *Registry) Recover(digest [32]byte, blob []byte) (common.Address, error) {
	m, raw, err := Decode(blob)
	if err != nil {
		return common.Address{}, err
	}
	r.mu.RLock()
	v, ok := r.verifiers[m]
	off := r.disabled[m]
	r.mu.RUnlock()
	if !ok || off {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	return v.Recover(digest, raw)
}

// Encode prefixes raw with the method tag.
func Encode(m Method, raw []byte) []byte {
	blob := make([]byte, 1+len(raw))
	blob[0] = byte(m)
	copy(blob[1:], raw)
	return blob
}

// Decode splits a blob into its method tag and raw signature bytes.
func Decode(blob []byte) (Method, []byte, error) {
	if len(blob) == 0 {
		return 0, nil, fmt.Errorf("%w: empty blob", ErrMalformedSignature)
	}
	return Method(blob[0]), blob[1:], nil
}
