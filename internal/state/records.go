package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/0gfoundation/0g-pos-settlement/internal/ledger"
	"github.com/0gfoundation/0g-pos-settlement/internal/rewards"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	_ fees.Store          = (*Tx)(nil)
	_ rewards.Store       = (*Tx)(nil)
	_ ledger.BalanceStore = (*Tx)(nil)
)

func (t *Tx) getJSON(ctx context.Context, s slot, v any) (bool, error) {
	raw, err := t.get(ctx, s)
	if err != nil || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", s.key, err)
	}
	return true, nil
}

func (t *Tx) putJSON(s slot, v any) {
	raw, _ := json.Marshal(v) // records are plain structs of addresses and integers
	t.put(s, string(raw))
}

func (t *Tx) getAmount(ctx context.Context, s slot) (*uint256.Int, error) {
	raw, err := t.get(ctx, s)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", s.key, err)
	}
	return v, nil
}

// putAmount deletes zero balances.
func (t *Tx) putAmount(s slot, v *uint256.Int) {
	if v == nil || v.IsZero() {
		t.del(s)
		return
	}
	t.put(s, v.Dec())
}

// ── Fee records ─────────────────────────────────────────────────────────────

func (t *Tx) Settings(ctx context.Context) (fees.Settings, bool, error) {
	var s fees.Settings
	ok, err := t.getJSON(ctx, slot{key: settingsKey}, &s)
	return s, ok, err
}

func (t *Tx) PutSettings(s fees.Settings) {
	t.putJSON(slot{key: settingsKey}, s)
}

func (t *Tx) Agent(ctx context.Context, addr common.Address) (fees.Agent, bool, error) {
	var a fees.Agent
	ok, err := t.getJSON(ctx, slot{key: addrKey(agentKeyPrefix, addr)}, &a)
	return a, ok, err
}

func (t *Tx) PutAgent(a fees.Agent) {
	t.putJSON(slot{key: addrKey(agentKeyPrefix, a.Address)}, a)
}

func (t *Tx) Sponsorship(ctx context.Context, payer common.Address) (fees.Sponsorship, bool, error) {
	var s fees.Sponsorship
	ok, err := t.getJSON(ctx, slot{key: addrKey(sponsorKeyPrefix, payer)}, &s)
	return s, ok, err
}

func (t *Tx) PutSponsorship(s fees.Sponsorship) {
	t.putJSON(slot{key: addrKey(sponsorKeyPrefix, s.Payer)}, s)
}

func (t *Tx) DeleteSponsorship(payer common.Address) {
	t.del(slot{key: addrKey(sponsorKeyPrefix, payer)})
}

// ── Reward pools ────────────────────────────────────────────────────────────

func (t *Tx) RewardBalance(ctx context.Context, signer common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return t.getAmount(ctx, slot{key: addrKey(poolKeyPrefix, signer), field: assetID.Dec()})
}

func (t *Tx) PutRewardBalance(signer common.Address, assetID, amount *uint256.Int) {
	t.putAmount(slot{key: addrKey(poolKeyPrefix, signer), field: assetID.Dec()}, amount)
}

// ── Balances ────────────────────────────────────────────────────────────────

func (t *Tx) NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return t.getAmount(ctx, slot{key: addrKey(nativeKeyPrefix, account)})
}

func (t *Tx) PutNativeBalance(account common.Address, amount *uint256.Int) {
	t.putAmount(slot{key: addrKey(nativeKeyPrefix, account)}, amount)
}

func (t *Tx) AssetBalance(ctx context.Context, account common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return t.getAmount(ctx, slot{key: addrKey(assetKeyPrefix, account), field: assetID.Dec()})
}

func (t *Tx) PutAssetBalance(account common.Address, assetID, amount *uint256.Int) {
	t.putAmount(slot{key: addrKey(assetKeyPrefix, account), field: assetID.Dec()}, amount)
}

// ── Processed orders ────────────────────────────────────────────────────────

func processedSlot(digest common.Hash) slot {
	return slot{key: orderKeyPrefix + digest.Hex()}
}

// IsProcessed reports whether digest has been settled.
func (t *Tx) IsProcessed(ctx context.Context, digest common.Hash) (bool, error) {
	v, err := t.get(ctx, processedSlot(digest))
	return v != "", err
}

// ProcessedAt returns the settlement time recorded for digest, or 0.
func (t *Tx) ProcessedAt(ctx context.Context, digest common.Hash) (uint64, error) {
	v, err := t.get(ctx, processedSlot(digest))
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// MarkProcessed stages digest into the processed set.
func (t *Tx) MarkProcessed(digest common.Hash, settledAt uint64) {
	t.put(processedSlot(digest), strconv.FormatUint(settledAt, 10))
}
