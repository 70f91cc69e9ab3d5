package order

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Path is the URI path every payment order uses.
const Path = "/real-world-payments"

var (
	addressRe   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	uintRe      = regexp.MustCompile(`^[0-9]+$`)
	signatureRe = regexp.MustCompile(`^0x([0-9a-fA-F]{2})+$`)
)

// Codec converts orders to and from scheme://domain/real-world-payments?data=<json>.
type Codec struct {
	Scheme string
	Domain string
}

// Encode renders o as a URI. The order is validated first, but not signed.
func (c Codec) Encode(o *PaymentOrder) (string, error) {
	if err := o.validateUnsigned(); err != nil {
		return "", err
	}
	data, err := json.Marshal(toWire(o))
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   c.Scheme,
		Host:     c.Domain,
		Path:     Path,
		RawQuery: url.Values{"data": {string(data)}}.Encode(),
	}
	return u.String(), nil
}

// Decode parses a URI strictly. It stops at the first bad field and never
// runs signature checks.
func (c Codec) Decode(raw string) (*PaymentOrder, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fieldErr("uri", "%v", err)
	}
	if !strings.EqualFold(u.Scheme, c.Scheme) {
		return nil, fieldErr("scheme", "got %q, want %q", u.Scheme, c.Scheme)
	}
	if !strings.EqualFold(u.Host, c.Domain) {
		return nil, fieldErr("domain", "got %q, want %q", u.Host, c.Domain)
	}
	if u.Path != Path {
		return nil, fieldErr("path", "got %q, want %q", u.Path, Path)
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fieldErr("data", "%v", err)
	}
	data := q.Get("data")
	if data == "" {
		return nil, fieldErr("data", "missing")
	}
	return DecodeJSON([]byte(data))
}

// DecodeJSON parses the JSON payload carried in the URI's data parameter.
func DecodeJSON(data []byte) (*PaymentOrder, error) {
	var w wireOrder
	if err := strictUnmarshal(data, &w); err != nil {
		return nil, err
	}
	return w.order()
}

// DecodeMethodJSON parses a bare payment method object, e.g.
// {"type":"single-asset","id":"7","value":"100"}.
func DecodeMethodJSON(data []byte) (PaymentMethod, error) {
	var w wireMethod
	if err := strictUnmarshal(data, &w); err != nil {
		return PaymentMethod{}, err
	}
	return w.method()
}

// MarshalJSON encodes o in its wire form.
func (o *PaymentOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(o))
}

// MarshalJSON encodes m in its wire form.
func (m PaymentMethod) MarshalJSON() ([]byte, error) {
	return json.Marshal(methodWire(m))
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return fieldErr(te.Field, "expected %s, got %s", te.Type, te.Value)
		}
		return fieldErr("data", "%v", err)
	}
	if dec.More() {
		return fieldErr("data", "trailing data after JSON object")
	}
	return nil
}

// ── Wire form ───────────────────────────────────────────────────────────────

type wireMethod struct {
	Type   string   `json:"type"`
	Value  string   `json:"value,omitempty"`
	ID     string   `json:"id,omitempty"`
	IDs    wireList `json:"ids,omitempty"`
	Values wireList `json:"values,omitempty"`
}

type wireOrder struct {
	wireMethod
	Args wireArgs `json:"args"`
}

type wireArgs struct {
	ToAddress        string      `json:"toAddress"`
	Payment          wirePayment `json:"payment"`
	DueDate          string      `json:"dueDate"`
	BrandAddress     string      `json:"brandAddress"`
	RewardIDs        wireList    `json:"rewardIds"`
	RewardValues     wireList    `json:"rewardValues"`
	PaymentSignature string      `json:"paymentSignature"`
}

// wireList holds a decimal-string array. Elements are decoded one by one so
// a bad element reports its own index.
type wireList []json.RawMessage

type wirePayment struct {
	POSAddress  string `json:"posAddress"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Now         string `json:"now"`
}

func toWire(o *PaymentOrder) wireOrder {
	sig := ""
	if len(o.Signature) > 0 {
		sig = "0x" + hex.EncodeToString(o.Signature)
	}
	return wireOrder{
		wireMethod: methodWire(o.Method),
		Args: wireArgs{
			ToAddress: o.ToAddress.Hex(),
			Payment: wirePayment{
				POSAddress:  o.POSAddress.Hex(),
				Reference:   o.Reference,
				Description: o.Description,
				Now:         strconv.FormatUint(o.IssuedAt, 10),
			},
			DueDate:          strconv.FormatUint(o.DueBy, 10),
			BrandAddress:     o.BrandAddress.Hex(),
			RewardIDs:        decimals(o.RewardAssetIDs),
			RewardValues:     decimals(o.RewardAmounts),
			PaymentSignature: sig,
		},
	}
}

func methodWire(m PaymentMethod) wireMethod {
	w := wireMethod{Type: m.Kind.String()}
	switch m.Kind {
	case KindNative:
		w.Value = decimal(first(m.Amounts))
	case KindSingleAsset:
		w.ID = decimal(first(m.AssetIDs))
		w.Value = decimal(first(m.Amounts))
	default:
		w.IDs = decimals(m.AssetIDs)
		w.Values = decimals(m.Amounts)
	}
	return w
}

func decimal(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// decimals never returns nil so empty arrays encode as [].
func decimals(xs []*uint256.Int) wireList {
	out := make(wireList, len(xs))
	for i, x := range xs {
		out[i] = json.RawMessage(strconv.Quote(decimal(x)))
	}
	return out
}

func (w wireMethod) method() (PaymentMethod, error) {
	kind, ok := ParseKind(w.Type)
	if !ok {
		return PaymentMethod{}, fieldErr("type", "unknown payment type %q", w.Type)
	}
	switch kind {
	case KindNative:
		if w.ID != "" || len(w.IDs) > 0 || len(w.Values) > 0 {
			return PaymentMethod{}, fieldErr("type", "native payments carry only value")
		}
		v, err := ParseAmount("value", w.Value)
		if err != nil {
			return PaymentMethod{}, err
		}
		return Native(v), nil
	case KindSingleAsset:
		if len(w.IDs) > 0 || len(w.Values) > 0 {
			return PaymentMethod{}, fieldErr("type", "single-asset payments carry id and value")
		}
		id, err := ParseAmount("id", w.ID)
		if err != nil {
			return PaymentMethod{}, err
		}
		v, err := ParseAmount("value", w.Value)
		if err != nil {
			return PaymentMethod{}, err
		}
		return SingleAsset(id, v), nil
	default:
		if w.ID != "" || w.Value != "" {
			return PaymentMethod{}, fieldErr("type", "multi-asset payments carry ids and values")
		}
		ids, err := parseAmounts("ids", w.IDs)
		if err != nil {
			return PaymentMethod{}, err
		}
		values, err := parseAmounts("values", w.Values)
		if err != nil {
			return PaymentMethod{}, err
		}
		m := MultiAsset(ids, values)
		return m, m.Validate()
	}
}

func (w wireOrder) order() (*PaymentOrder, error) {
	m, err := w.method()
	if err != nil {
		return nil, err
	}
	a := w.Args
	o := &PaymentOrder{Method: m, Reference: a.Payment.Reference, Description: a.Payment.Description}

	if o.ToAddress, err = ParseAddress("args.toAddress", a.ToAddress); err != nil {
		return nil, err
	}
	if o.POSAddress, err = ParseAddress("args.payment.posAddress", a.Payment.POSAddress); err != nil {
		return nil, err
	}
	if o.IssuedAt, err = parseTimestamp("args.payment.now", a.Payment.Now); err != nil {
		return nil, err
	}
	if o.DueBy, err = parseTimestamp("args.dueDate", a.DueDate); err != nil {
		return nil, err
	}
	if o.BrandAddress, err = ParseAddress("args.brandAddress", a.BrandAddress); err != nil {
		return nil, err
	}
	if o.RewardAssetIDs, err = parseAmounts("args.rewardIds", a.RewardIDs); err != nil {
		return nil, err
	}
	if o.RewardAmounts, err = parseAmounts("args.rewardValues", a.RewardValues); err != nil {
		return nil, err
	}
	if o.Signature, err = parseSignature("args.paymentSignature", a.PaymentSignature); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// ParseAddress accepts exactly 0x followed by 40 hex digits.
func ParseAddress(path, s string) (common.Address, error) {
	if !addressRe.MatchString(s) {
		return common.Address{}, fieldErr(path, "not a 0x-prefixed 20-byte hex address")
	}
	return common.HexToAddress(s), nil
}

// ParseAmount accepts a decimal string that fits in 256 bits.
func ParseAmount(path, s string) (*uint256.Int, error) {
	if !uintRe.MatchString(s) {
		return nil, fieldErr(path, "not an unsigned decimal integer")
	}
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fieldErr(path, "does not fit in 256 bits")
	}
	return x, nil
}

func parseAmounts(path string, list wireList) ([]*uint256.Int, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]*uint256.Int, len(list))
	for i, raw := range list {
		elem := indexPath(path, i)
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fieldErr(elem, "expected a decimal string, got %s", raw)
		}
		x, err := ParseAmount(elem, s)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func parseTimestamp(path, s string) (uint64, error) {
	if !uintRe.MatchString(s) {
		return 0, fieldErr(path, "not an unsigned decimal integer")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fieldErr(path, "does not fit in 64 bits")
	}
	return v, nil
}

func parseSignature(path, s string) ([]byte, error) {
	if !signatureRe.MatchString(s) {
		return nil, fieldErr(path, "not 0x-prefixed hex")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fieldErr(path, "%v", err)
	}
	return b, nil
}
