// cmd/posorder builds and signs payment orders the way a POS terminal does,
// and decodes existing order URIs for inspection.
//
// Usage:
//
//	POS_PRIVATE_KEY=0x<key> \
//	go run ./cmd/posorder/ \
//	  --domain   pay.example.com \
//	  --chain-id 16602 \
//	  --engine   0xE5C0000000000000000000000000000000000001 \
//	  --to       0x9000000000000000000000000000000000000001 \
//	  --ref      INV-0001 \
//	  --native   1000000
//
//	go run ./cmd/posorder/ --decode '<uri>'
package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
)

type options struct {
	method      string
	to          string
	brand       string
	reference   string
	description string
	validFor    time.Duration
	native      string
	asset       string
	amount      string
	assets      string
	rewards     string
}

func main() {
	scheme := flag.String("scheme", "https", "URI scheme")
	domain := flag.String("domain", "pay.example.com", "URI domain, bound into the signature")
	chainID := flag.Uint64("chain-id", 16602, "Chain ID")
	engineHex := flag.String("engine", "", "Settlement engine (escrow) address")
	decode := flag.String("decode", "", "Decode and verify this order URI instead of building one")

	var opts options
	flag.StringVar(&opts.method, "method", "ecdsa", "Signature method: ecdsa, personal or ed25519")
	flag.StringVar(&opts.to, "to", "", "Payee address")
	flag.StringVar(&opts.brand, "brand", "", "Brand address (optional)")
	flag.StringVar(&opts.reference, "ref", "", "Order reference")
	flag.StringVar(&opts.description, "desc", "", "Order description")
	flag.DurationVar(&opts.validFor, "valid-for", 15*time.Minute, "How long the order stays payable")
	flag.StringVar(&opts.native, "native", "", "Native amount")
	flag.StringVar(&opts.asset, "asset", "", "Single asset id (with --amount)")
	flag.StringVar(&opts.amount, "amount", "", "Single asset amount")
	flag.StringVar(&opts.assets, "assets", "", "Multi-asset list id:amount,id:amount")
	flag.StringVar(&opts.rewards, "rewards", "", "Reward list id:amount,id:amount")
	flag.Parse()

	if !common.IsHexAddress(*engineHex) {
		fatalf("--engine must be a hex address")
	}
	d := order.Domain{Name: *domain, ChainID: *chainID, Engine: common.HexToAddress(*engineHex)}
	codec := order.Codec{Scheme: *scheme, Domain: *domain}

	if *decode != "" {
		if err := printDecoded(codec, d, *decode); err != nil {
			fatalf("%v", err)
		}
		return
	}

	signer, err := signerFromKey(opts.method, os.Getenv("POS_PRIVATE_KEY"))
	if err != nil {
		fatalf("%v", err)
	}
	o, err := buildOrder(opts, signer.Address(), time.Now())
	if err != nil {
		fatalf("build order: %v", err)
	}
	if err := order.Sign(o, d, signer); err != nil {
		fatalf("sign order: %v", err)
	}
	uri, err := codec.Encode(o)
	if err != nil {
		fatalf("encode order: %v", err)
	}

	fmt.Fprintf(os.Stderr, "signer: %s (%s)\n", signer.Address().Hex(), signer.Method())
	fmt.Fprintf(os.Stderr, "digest: %s\n", order.Digest(o, d).Hex())
	fmt.Println(uri)
}

// signerFromKey parses a hex key. ECDSA methods take a secp256k1 private key,
// ed25519 takes a 32-byte seed.
func signerFromKey(method, keyHex string) (sigverify.Signer, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("POS_PRIVATE_KEY not set")
	}
	m, err := sigverify.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	switch m {
	case sigverify.MethodEd25519:
		seed, err := hex.DecodeString(keyHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, errors.New("ed25519 key must be a 32-byte hex seed")
		}
		return sigverify.NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
	default:
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		if m == sigverify.MethodPersonal {
			return sigverify.NewPersonalSigner(key), nil
		}
		return sigverify.NewECDSASigner(key), nil
	}
}

func buildOrder(opts options, pos common.Address, now time.Time) (*order.PaymentOrder, error) {
	to, err := order.ParseAddress("to", opts.to)
	if err != nil {
		return nil, err
	}
	o := &order.PaymentOrder{
		POSAddress:  pos,
		Reference:   opts.reference,
		Description: opts.description,
		IssuedAt:    uint64(now.Unix()),
		DueBy:       uint64(now.Add(opts.validFor).Unix()),
		ToAddress:   to,
	}
	if opts.brand != "" {
		if o.BrandAddress, err = order.ParseAddress("brand", opts.brand); err != nil {
			return nil, err
		}
	}
	if opts.rewards != "" {
		if o.RewardAssetIDs, o.RewardAmounts, err = parsePairs("rewards", opts.rewards); err != nil {
			return nil, err
		}
	}

	switch {
	case opts.native != "":
		v, err := order.ParseAmount("native", opts.native)
		if err != nil {
			return nil, err
		}
		o.Method = order.Native(v)
	case opts.asset != "":
		id, err := order.ParseAmount("asset", opts.asset)
		if err != nil {
			return nil, err
		}
		v, err := order.ParseAmount("amount", opts.amount)
		if err != nil {
			return nil, err
		}
		o.Method = order.SingleAsset(id, v)
	case opts.assets != "":
		ids, amounts, err := parsePairs("assets", opts.assets)
		if err != nil {
			return nil, err
		}
		o.Method = order.MultiAsset(ids, amounts)
	default:
		return nil, errors.New("one of --native, --asset or --assets is required")
	}
	return o, nil
}

// parsePairs parses "id:amount,id:amount".
func parsePairs(name, s string) (ids, amounts []*uint256.Int, err error) {
	for i, pair := range strings.Split(s, ",") {
		idStr, amtStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, nil, fmt.Errorf("--%s entry %d: want id:amount", name, i)
		}
		id, err := order.ParseAmount(fmt.Sprintf("%s.%d.id", name, i), idStr)
		if err != nil {
			return nil, nil, err
		}
		amt, err := order.ParseAmount(fmt.Sprintf("%s.%d.amount", name, i), amtStr)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		amounts = append(amounts, amt)
	}
	return ids, amounts, nil
}

func printDecoded(codec order.Codec, d order.Domain, uri string) error {
	o, err := codec.Decode(uri)
	if err != nil {
		return err
	}
	out := map[string]any{
		"order":  o,
		"digest": order.Digest(o, d).Hex(),
	}
	if signer, err := order.Recover(o, d, sigverify.DefaultRegistry()); err != nil {
		out["signature_error"] = err.Error()
	} else {
		out["signer"] = signer.Hex()
		out["signer_matches"] = signer == o.POSAddress
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
