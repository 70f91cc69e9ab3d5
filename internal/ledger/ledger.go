// Package ledger moves native currency and fungible assets between accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrLengthMismatch      = errors.New("ledger: asset ids and amounts differ in length")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
)

// Ledger is the value-transfer surface the settlement engine relies on.
// Each call either applies completely or not at all.
type Ledger interface {
	Transfer(ctx context.Context, from, to common.Address, assetID, amount *uint256.Int) error
	BatchTransfer(ctx context.Context, from, to common.Address, assetIDs, amounts []*uint256.Int) error
	NativeTransfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// BalanceStore holds balances. Absent balances read as zero.
type BalanceStore interface {
	NativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
	PutNativeBalance(account common.Address, amount *uint256.Int)
	AssetBalance(ctx context.Context, account common.Address, assetID *uint256.Int) (*uint256.Int, error)
	PutAssetBalance(account common.Address, assetID, amount *uint256.Int)
}

// Accounts implements Ledger over a BalanceStore.
type Accounts struct {
	store BalanceStore
}

func NewAccounts(store BalanceStore) *Accounts {
	return &Accounts{store: store}
}

var _ Ledger = (*Accounts)(nil)

// balance reads the native balance when assetID is nil.
func (a *Accounts) balance(ctx context.Context, account common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	if assetID == nil {
		return a.store.NativeBalance(ctx, account)
	}
	return a.store.AssetBalance(ctx, account, assetID)
}

func (a *Accounts) put(account common.Address, assetID, amount *uint256.Int) {
	if assetID == nil {
		a.store.PutNativeBalance(account, amount)
		return
	}
	a.store.PutAssetBalance(account, assetID, amount)
}

func (a *Accounts) move(ctx context.Context, from, to common.Address, assetID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := a.balance(ctx, from, assetID)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), assetName(assetID), amount.Dec())
	}
	toBal, err := a.balance(ctx, to, assetID)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("%w: %s of %s", ErrBalanceOverflow, to.Hex(), assetName(assetID))
	}
	a.put(from, assetID, new(uint256.Int).Sub(fromBal, amount))
	a.put(to, assetID, credited)
	return nil
}

func (a *Accounts) Transfer(ctx context.Context, from, to common.Address, assetID, amount *uint256.Int) error {
	if assetID == nil {
		return errors.New("ledger: asset id required")
	}
	return a.move(ctx, from, to, assetID, amount)
}

func (a *Accounts) NativeTransfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return a.move(ctx, from, to, nil, amount)
}

// BatchTransfer checks the sender covers every asset, summing repeated ids,
// before moving anything.
func (a *Accounts) BatchTransfer(ctx context.Context, from, to common.Address, assetIDs, amounts []*uint256.Int) error {
	if len(assetIDs) != len(amounts) {
		return ErrLengthMismatch
	}
	need := make(map[uint256.Int]*uint256.Int, len(assetIDs))
	for i, id := range assetIDs {
		if id == nil {
			return fmt.Errorf("ledger: asset id %d missing", i)
		}
		if amounts[i] == nil {
			continue
		}
		total, ok := need[*id]
		if !ok {
			total = new(uint256.Int)
			need[*id] = total
		}
		if _, overflow := total.AddOverflow(total, amounts[i]); overflow {
			return fmt.Errorf("%w: batch total of %s", ErrBalanceOverflow, assetName(id))
		}
	}
	for id, total := range need {
		bal, err := a.store.AssetBalance(ctx, from, &id)
		if err != nil {
			return err
		}
		if bal.Lt(total) {
			return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), assetName(&id), total.Dec())
		}
	}
	for i, id := range assetIDs {
		if err := a.move(ctx, from, to, id, amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// Mint credits amount out of thin air. Only tests and bootstrap tooling use it.
func (a *Accounts) Mint(ctx context.Context, account common.Address, assetID, amount *uint256.Int) error {
	bal, err := a.balance(ctx, account, assetID)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	a.put(account, assetID, sum)
	return nil
}

// Balance returns the asset balance, or the native balance when assetID is nil.
func (a *Accounts) Balance(ctx context.Context, account common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return a.balance(ctx, account, assetID)
}

func assetName(assetID *uint256.Int) string {
	if assetID == nil {
		return "native"
	}
	return "asset " + assetID.Dec()
}
