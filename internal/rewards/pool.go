// Package rewards holds per-signer reward balances funded ahead of time and
// paid out when orders settle.
package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/0gfoundation/0g-pos-settlement/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientRewardFunds = errors.New("rewards: insufficient reward funds")
	ErrZeroAmount              = errors.New("rewards: amount must be positive")
)

// Store tracks pool[signer][asset].
type Store interface {
	RewardBalance(ctx context.Context, signer common.Address, assetID *uint256.Int) (*uint256.Int, error)
	PutRewardBalance(signer common.Address, assetID, amount *uint256.Int)
}

// Pool keeps reward funds in an escrow account and the per-signer
// accounting in a Store.
type Pool struct {
	store  Store
	ledger ledger.Ledger
	escrow common.Address
}

func NewPool(store Store, l ledger.Ledger, escrow common.Address) *Pool {
	return &Pool{store: store, ledger: l, escrow: escrow}
}

// Deposit moves amount of assetID from funder into escrow and credits
// signer's pool.
func (p *Pool) Deposit(ctx context.Context, funder, signer common.Address, assetID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	bal, err := p.store.RewardBalance(ctx, signer, assetID)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("%w: pool of %s", ledger.ErrBalanceOverflow, signer.Hex())
	}
	if err := p.ledger.Transfer(ctx, funder, p.escrow, assetID, amount); err != nil {
		return err
	}
	p.store.PutRewardBalance(signer, assetID, sum)
	return nil
}

// Draw debits signer's pool and pays amount out of escrow to to. The pool
// never goes negative.
func (p *Pool) Draw(ctx context.Context, signer common.Address, assetID, amount *uint256.Int, to common.Address) error {
	bal, err := p.store.RewardBalance(ctx, signer, assetID)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of asset %s, needs %s",
			ErrInsufficientRewardFunds, signer.Hex(), bal.Dec(), assetID.Dec(), amount.Dec())
	}
	p.store.PutRewardBalance(signer, assetID, new(uint256.Int).Sub(bal, amount))
	return p.ledger.Transfer(ctx, p.escrow, to, assetID, amount)
}

// Balance returns pool[signer][assetID].
func (p *Pool) Balance(ctx context.Context, signer common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return p.store.RewardBalance(ctx, signer, assetID)
}
