package state

import (
	"context"
	"errors"
	"testing"

	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

var (
	testAccount = common.HexToAddress("0xABCDEF1234567890ABCDEF1234567890ABCDEF12")
	testAgent   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestStore(t *testing.T) (*Store, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb), rdb, mr
}

// ── Commit / Discard ────────────────────────────────────────────────────────

func TestCommit_AppliesWrites(t *testing.T) {
	s, _, mr := newTestStore(t)
	ctx := context.Background()

	tx := s.Begin()
	tx.PutNativeBalance(testAccount, uint256.NewInt(500))
	tx.PutAssetBalance(testAccount, uint256.NewInt(7), uint256.NewInt(9))
	tx.PutAgent(fees.Agent{Address: testAgent, FeeFraction: 600, Active: true})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got, _ := mr.Get("ledger:native:0xabcdef1234567890abcdef1234567890abcdef12"); got != "500" {
		t.Errorf("native balance = %q, want 500", got)
	}
	if got := mr.HGet("ledger:asset:0xabcdef1234567890abcdef1234567890abcdef12", "7"); got != "9" {
		t.Errorf("asset balance = %q, want 9", got)
	}

	read := s.Begin()
	a, ok, err := read.Agent(ctx, testAgent)
	if err != nil || !ok {
		t.Fatalf("Agent: (%v, %v)", ok, err)
	}
	if a.FeeFraction != 600 || !a.Active {
		t.Errorf("agent = %+v", a)
	}
}

func TestDiscard_LeavesRedisUntouched(t *testing.T) {
	s, _, mr := newTestStore(t)
	ctx := context.Background()

	tx := s.Begin()
	tx.PutNativeBalance(testAccount, uint256.NewInt(500))
	tx.MarkProcessed(common.Hash{1}, 10)
	tx.Discard()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit after Discard: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty Redis, got %v", keys)
	}
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	tx := s.Begin()
	bal, err := tx.NativeBalance(ctx, testAccount)
	if err != nil || !bal.IsZero() {
		t.Fatalf("absent balance should read zero, got (%v, %v)", bal, err)
	}
	tx.PutNativeBalance(testAccount, uint256.NewInt(3))
	bal, _ = tx.NativeBalance(ctx, testAccount)
	if bal.Uint64() != 3 {
		t.Fatalf("staged balance = %d, want 3", bal.Uint64())
	}

	tx.PutSponsorship(fees.Sponsorship{Payer: testAccount, Agent: testAgent, CustomFee: 5})
	tx.DeleteSponsorship(testAccount)
	if _, ok, _ := tx.Sponsorship(ctx, testAccount); ok {
		t.Fatal("deleted sponsorship should not be visible")
	}
}

func TestCommit_ZeroBalanceDeletesField(t *testing.T) {
	s, _, mr := newTestStore(t)
	ctx := context.Background()
	asset := uint256.NewInt(7)

	tx := s.Begin()
	tx.PutRewardBalance(testAccount, asset, uint256.NewInt(4))
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	tx = s.Begin()
	tx.PutRewardBalance(testAccount, asset, new(uint256.Int))
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("rwp:pool:0xabcdef1234567890abcdef1234567890abcdef12") {
		t.Error("empty pool hash should be gone")
	}
}

// ── Conflicts ───────────────────────────────────────────────────────────────

func TestCommit_ConflictOnChangedRead(t *testing.T) {
	s, rdb, _ := newTestStore(t)
	ctx := context.Background()

	tx := s.Begin()
	bal, _ := tx.NativeBalance(ctx, testAccount)
	tx.PutNativeBalance(testAccount, new(uint256.Int).AddUint64(bal, 10))

	// Another writer lands first.
	if err := rdb.Set(ctx, "ledger:native:0xabcdef1234567890abcdef1234567890abcdef12", "99", 0).Err(); err != nil {
		t.Fatal(err)
	}

	if err := tx.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := rdb.Get(ctx, "ledger:native:0xabcdef1234567890abcdef1234567890abcdef12").Result()
	if got != "99" {
		t.Errorf("conflicting commit must not write, balance = %q", got)
	}
}

func TestProcessedSet_RaceResolvesOnce(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	digest := crypto.Keccak256Hash([]byte("order"))

	first, second := s.Begin(), s.Begin()
	for _, tx := range []*Tx{first, second} {
		done, err := tx.IsProcessed(ctx, digest)
		if err != nil || done {
			t.Fatalf("IsProcessed = (%v, %v)", done, err)
		}
		tx.MarkProcessed(digest, 1_700_000_000)
	}

	if err := first.Commit(ctx); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := second.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Commit: expected ErrConflict, got %v", err)
	}

	at, err := s.Begin().ProcessedAt(ctx, digest)
	if err != nil || at != 1_700_000_000 {
		t.Fatalf("ProcessedAt = (%d, %v)", at, err)
	}
}
