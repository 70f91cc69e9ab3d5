package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	paymentTypeHash = crypto.Keccak256Hash([]byte(
		"Payment(address posAddress,string reference,string description,uint256 now)",
	))
	orderTypeHash = crypto.Keccak256Hash([]byte(
		"PaymentOrder(address toAddress,Payment payment,uint256 dueDate,address brandAddress," +
			"uint256[] rewardIds,uint256[] rewardValues,uint8 method,bytes32 methodHash)" +
			"Payment(address posAddress,string reference,string description,uint256 now)",
	))
	versionHash = crypto.Keccak256Hash([]byte("1"))
)

// Domain scopes signatures to one deployment: the URI domain, the chain and
// the engine's account.
type Domain struct {
	Name    string
	ChainID uint64
	Engine  common.Address
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	var w words
	w.hash(domainTypeHash)
	w.hash(nameHash)
	w.hash(versionHash)
	w.u64(d.ChainID)
	w.address(d.Engine)
	return crypto.Keccak256Hash(w)
}

// Digest is the canonical hash the POS key signs.
func Digest(o *PaymentOrder, d Domain) common.Hash {
	return DigestWith(o, o.Method, d)
}

// DigestWith hashes o as if it carried method m. Settlement uses it with the
// payment shape supplied at submission time.
func DigestWith(o *PaymentOrder, m PaymentMethod, d Domain) common.Hash {
	structHash := hashOrder(o, m)
	sep := d.Separator()

	// Final digest: keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

func hashOrder(o *PaymentOrder, m PaymentMethod) common.Hash {
	var p words
	p.hash(paymentTypeHash)
	p.address(o.POSAddress)
	p.hash(crypto.Keccak256Hash([]byte(o.Reference)))
	p.hash(crypto.Keccak256Hash([]byte(o.Description)))
	p.u64(o.IssuedAt)

	var w words
	w.hash(orderTypeHash)
	w.address(o.ToAddress)
	w.hash(crypto.Keccak256Hash(p))
	w.u64(o.DueBy)
	w.address(o.BrandAddress)
	w.hash(hashArray(o.RewardAssetIDs))
	w.hash(hashArray(o.RewardAmounts))
	w.u64(uint64(m.Kind))
	w.hash(hashMethod(m))
	return crypto.Keccak256Hash(w)
}

func hashMethod(m PaymentMethod) common.Hash {
	var w words
	switch m.Kind {
	case KindNative:
		w.u256(first(m.Amounts))
	case KindSingleAsset:
		w.u256(first(m.AssetIDs))
		w.u256(first(m.Amounts))
	default:
		w.hash(hashArray(m.AssetIDs))
		w.hash(hashArray(m.Amounts))
	}
	return crypto.Keccak256Hash(w)
}

// hashArray hashes xs as a packed array of 32-byte words.
func hashArray(xs []*uint256.Int) common.Hash {
	w := make(words, 0, 32*len(xs))
	for _, x := range xs {
		w.u256(x)
	}
	return crypto.Keccak256Hash(w)
}

func first(xs []*uint256.Int) *uint256.Int {
	if len(xs) == 0 {
		return nil
	}
	return xs[0]
}

// words accumulates 32-byte ABI slots.
type words []byte

func (w *words) slot() []byte {
	*w = append(*w, make([]byte, 32)...)
	return (*w)[len(*w)-32:]
}

func (w *words) hash(h common.Hash) { copy(w.slot(), h[:]) }

// addr is right-aligned in 32-byte slot
func (w *words) address(a common.Address) { copy(w.slot()[12:], a.Bytes()) }

func (w *words) u64(v uint64) {
	s := w.slot()
	for i := 0; i < 8; i++ {
		s[31-i] = byte(v >> (8 * i))
	}
}

// u256 treats nil as zero.
func (w *words) u256(x *uint256.Int) {
	s := w.slot()
	if x != nil {
		b := x.Bytes32()
		copy(s, b[:])
	}
}
