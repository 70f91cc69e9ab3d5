package order

import (
	"fmt"

	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
	"github.com/ethereum/go-ethereum/common"
)

// Sign validates o, then signs its digest in-place. The signer's identity
// must be the order's POSAddress.
func Sign(o *PaymentOrder, d Domain, s sigverify.Signer) error {
	if err := o.validateUnsigned(); err != nil {
		return err
	}
	if s.Address() != o.POSAddress {
		return fmt.Errorf("order: signer %s is not posAddress %s", s.Address().Hex(), o.POSAddress.Hex())
	}
	sig, err := s.Sign(Digest(o, d))
	if err != nil {
		return fmt.Errorf("order: sign: %w", err)
	}
	o.Signature = sig
	return nil
}

// Recover returns the identity that signed o under d.
func Recover(o *PaymentOrder, d Domain, reg *sigverify.Registry) (common.Address, error) {
	return reg.Recover(Digest(o, d), o.Signature)
}
