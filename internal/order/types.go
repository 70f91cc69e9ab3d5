// Package order defines the signed payment order, its canonical digest and
// its URI encoding.
package order

import (
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Limits enforced by Validate and Decode.
const (
	MaxReferenceLength   = 256
	MaxDescriptionLength = 1024
	MaxRewards           = 64
	MaxAssets            = 64
)

// Kind tags the payment method union.
type Kind uint8

const (
	KindNative Kind = iota
	KindSingleAsset
	KindMultiAsset
)

var kindNames = [...]string{
	KindNative:      "native",
	KindSingleAsset: "single-asset",
	KindMultiAsset:  "multi-asset",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a wire type name to its Kind.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// PaymentMethod is the asset shape being paid. AssetIDs is empty for Native
// and has exactly one entry for SingleAsset.
type PaymentMethod struct {
	Kind     Kind
	AssetIDs []*uint256.Int
	Amounts  []*uint256.Int
}

// Native pays amount in the chain's native currency.
func Native(amount *uint256.Int) PaymentMethod {
	return PaymentMethod{Kind: KindNative, Amounts: []*uint256.Int{amount}}
}

// SingleAsset pays amount of asset id.
func SingleAsset(id, amount *uint256.Int) PaymentMethod {
	return PaymentMethod{Kind: KindSingleAsset, AssetIDs: []*uint256.Int{id}, Amounts: []*uint256.Int{amount}}
}

// MultiAsset pays amounts[i] of ids[i].
func MultiAsset(ids, amounts []*uint256.Int) PaymentMethod {
	return PaymentMethod{Kind: KindMultiAsset, AssetIDs: ids, Amounts: amounts}
}

// Equal reports whether two methods have the same kind, ids and amounts.
func (m PaymentMethod) Equal(o PaymentMethod) bool {
	return m.Kind == o.Kind && equalInts(m.AssetIDs, o.AssetIDs) && equalInts(m.Amounts, o.Amounts)
}

func equalInts(a, b []*uint256.Int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == nil || b[i] == nil {
			if a[i] != b[i] {
				return false
			}
			continue
		}
		if !a[i].Eq(b[i]) {
			return false
		}
	}
	return true
}

// PaymentOrder is the merchant's signed instruction. POSAddress is the
// signer identity; ToAddress receives the net payment.
type PaymentOrder struct {
	POSAddress  common.Address
	Reference   string
	Description string
	IssuedAt    uint64
	DueBy       uint64

	ToAddress    common.Address
	BrandAddress common.Address

	RewardAssetIDs []*uint256.Int
	RewardAmounts  []*uint256.Int

	Method    PaymentMethod
	Signature []byte
}

// HasBrand reports whether the order is issued on behalf of a brand.
func (o *PaymentOrder) HasBrand() bool {
	return o.BrandAddress != (common.Address{})
}

// Validate checks the structural rules every settleable order obeys. It does
// not look at the signature bytes beyond requiring them.
func (o *PaymentOrder) Validate() error {
	if err := o.validateUnsigned(); err != nil {
		return err
	}
	if len(o.Signature) == 0 {
		return fieldErr("args.paymentSignature", "missing")
	}
	return nil
}

func (o *PaymentOrder) validateUnsigned() error {
	zero := common.Address{}
	if o.ToAddress == zero {
		return fieldErr("args.toAddress", "zero address")
	}
	if o.POSAddress == zero {
		return fieldErr("args.payment.posAddress", "zero address")
	}
	if len(o.Reference) > MaxReferenceLength {
		return fieldErr("args.payment.reference", "longer than %d bytes", MaxReferenceLength)
	}
	if len(o.Description) > MaxDescriptionLength {
		return fieldErr("args.payment.description", "longer than %d bytes", MaxDescriptionLength)
	}
	// JSON cannot carry invalid UTF-8, so such text would not survive encoding.
	if !utf8.ValidString(o.Reference) {
		return fieldErr("args.payment.reference", "not valid UTF-8")
	}
	if !utf8.ValidString(o.Description) {
		return fieldErr("args.payment.description", "not valid UTF-8")
	}
	if o.DueBy <= o.IssuedAt {
		return fieldErr("args.dueDate", "must be after args.payment.now")
	}
	if len(o.RewardAssetIDs) != len(o.RewardAmounts) {
		return fieldErr("args.rewardValues", "has %d entries, rewardIds has %d", len(o.RewardAmounts), len(o.RewardAssetIDs))
	}
	if len(o.RewardAssetIDs) > MaxRewards {
		return fieldErr("args.rewardIds", "more than %d entries", MaxRewards)
	}
	if err := checkNil("args.rewardIds", o.RewardAssetIDs); err != nil {
		return err
	}
	if err := checkNil("args.rewardValues", o.RewardAmounts); err != nil {
		return err
	}
	return o.Method.Validate()
}

// Validate checks that the method's arrays fit its kind.
func (m PaymentMethod) Validate() error {
	switch m.Kind {
	case KindNative:
		if len(m.AssetIDs) != 0 {
			return fieldErr("id", "native payments carry no asset id")
		}
		if len(m.Amounts) != 1 || m.Amounts[0] == nil {
			return fieldErr("value", "missing")
		}
	case KindSingleAsset:
		if len(m.AssetIDs) != 1 || m.AssetIDs[0] == nil {
			return fieldErr("id", "missing")
		}
		if len(m.Amounts) != 1 || m.Amounts[0] == nil {
			return fieldErr("value", "missing")
		}
	case KindMultiAsset:
		if len(m.AssetIDs) == 0 {
			return fieldErr("ids", "empty")
		}
		if len(m.AssetIDs) > MaxAssets {
			return fieldErr("ids", "more than %d entries", MaxAssets)
		}
		if len(m.Amounts) != len(m.AssetIDs) {
			return fieldErr("values", "has %d entries, ids has %d", len(m.Amounts), len(m.AssetIDs))
		}
		if err := checkNil("ids", m.AssetIDs); err != nil {
			return err
		}
		if err := checkNil("values", m.Amounts); err != nil {
			return err
		}
	default:
		return fieldErr("type", "unknown payment type %d", m.Kind)
	}
	return nil
}

func checkNil(path string, xs []*uint256.Int) error {
	for i, x := range xs {
		if x == nil {
			return fieldErr(indexPath(path, i), "missing")
		}
	}
	return nil
}
