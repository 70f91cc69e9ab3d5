package brand

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	testBrand  = common.HexToAddress("0xB0B0B0B0B0B0B0B0B0B0B0B0B0B0B0B0B0B0B0B0")
	testSigner = common.HexToAddress("0x5151515151515151515151515151515151515151")
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRegistry(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestAuthorizeRevoke(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.IsSignerAuthorized(ctx, testBrand, testSigner)
	if err != nil || ok {
		t.Fatalf("fresh registry: got (%v, %v), want (false, nil)", ok, err)
	}

	if err := r.Authorize(ctx, testBrand, testSigner); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	ok, _ = r.IsSignerAuthorized(ctx, testBrand, testSigner)
	if !ok {
		t.Fatal("signer should be authorized")
	}
	if !mr.Exists("brand:signers:0xb0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0") {
		t.Error("expected lower-cased signers key")
	}

	signers, err := r.Signers(ctx, testBrand)
	if err != nil || len(signers) != 1 || signers[0] != testSigner {
		t.Fatalf("Signers = (%v, %v)", signers, err)
	}

	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if ok, _ := r.IsSignerAuthorized(ctx, other, testSigner); ok {
		t.Error("authorization must not leak across brands")
	}

	if err := r.Revoke(ctx, testBrand, testSigner); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, _ := r.IsSignerAuthorized(ctx, testBrand, testSigner); ok {
		t.Error("signer should be revoked")
	}
}

func TestSetCommitted(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetCommitted(ctx, testBrand, true); err != nil {
		t.Fatalf("SetCommitted: %v", err)
	}
	if ok, _ := r.IsBrandCommitted(ctx, testBrand); !ok {
		t.Fatal("brand should be committed")
	}
	if err := r.SetCommitted(ctx, testBrand, false); err != nil {
		t.Fatalf("SetCommitted(false): %v", err)
	}
	if ok, _ := r.IsBrandCommitted(ctx, testBrand); ok {
		t.Fatal("brand should no longer be committed")
	}
}
