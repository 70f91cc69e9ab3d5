package settlement

import (
	"context"
	"errors"

	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/0gfoundation/0g-pos-settlement/internal/ledger"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/rewards"
	"github.com/0gfoundation/0g-pos-settlement/internal/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Outcome labels, used for metrics and logs.
const (
	outcomeSettled = "settled"
	outcomeError   = "error"
)

// Outcome classifies a Settle error into a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSettled
	case errors.Is(err, ErrMalformedOrder), errors.Is(err, order.ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrUnauthorizedBrandSigner):
		return "unauthorized_brand"
	case errors.Is(err, rewards.ErrInsufficientRewardFunds):
		return "insufficient_rewards"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return outcomeError
	}
}

// ── Reads ───────────────────────────────────────────────────────────────────

// IsProcessed reports whether the order with this digest has settled.
func (e *Engine) IsProcessed(ctx context.Context, digest common.Hash) (bool, error) {
	return e.store.Begin().IsProcessed(ctx, digest)
}

// ProcessedAt returns when the order with this digest settled, or 0 if it
// has not.
func (e *Engine) ProcessedAt(ctx context.Context, digest common.Hash) (uint64, error) {
	return e.store.Begin().ProcessedAt(ctx, digest)
}

func (e *Engine) Settings(ctx context.Context) (fees.Settings, error) {
	return fees.NewBook(e.store.Begin()).Settings(ctx)
}

// FeeSplit previews the split applied to orders signed by payer.
func (e *Engine) FeeSplit(ctx context.Context, payer common.Address) (fees.Split, error) {
	return fees.NewBook(e.store.Begin()).ComputeSplit(ctx, payer)
}

func (e *Engine) Agent(ctx context.Context, addr common.Address) (fees.Agent, bool, error) {
	return e.store.Begin().Agent(ctx, addr)
}

func (e *Engine) Sponsorship(ctx context.Context, payer common.Address) (fees.Sponsorship, bool, error) {
	return e.store.Begin().Sponsorship(ctx, payer)
}

func (e *Engine) RewardBalance(ctx context.Context, signer common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return e.store.Begin().RewardBalance(ctx, signer, assetID)
}

// Balance returns an account's asset balance, or its native balance when
// assetID is nil.
func (e *Engine) Balance(ctx context.Context, account common.Address, assetID *uint256.Int) (*uint256.Int, error) {
	return ledger.NewAccounts(e.store.Begin()).Balance(ctx, account, assetID)
}

// RequireManager fails with fees.ErrUnauthorized unless caller manages the
// fee settings.
func (e *Engine) RequireManager(ctx context.Context, caller common.Address) error {
	_, err := fees.NewBook(e.store.Begin()).RequireManager(ctx, caller)
	return err
}

// ── Writes ──────────────────────────────────────────────────────────────────

// Deposit funds signer's reward pool from funder's balance.
func (e *Engine) Deposit(ctx context.Context, funder, signer common.Address, assetID, amount *uint256.Int) error {
	err := e.run(ctx, func(tx *state.Tx) error {
		return rewards.NewPool(tx, ledger.NewAccounts(tx), e.domain.Engine).Deposit(ctx, funder, signer, assetID, amount)
	})
	if err == nil {
		e.log.Info("reward pool funded",
			zap.String("funder", funder.Hex()),
			zap.String("signer", signer.Hex()),
			zap.String("asset", assetID.Dec()),
			zap.String("amount", amount.Dec()),
		)
	}
	return err
}

// Mint credits an account directly. It backs bootstrap tooling and tests and
// has no API surface.
func (e *Engine) Mint(ctx context.Context, account common.Address, assetID, amount *uint256.Int) error {
	return e.run(ctx, func(tx *state.Tx) error {
		return ledger.NewAccounts(tx).Mint(ctx, account, assetID, amount)
	})
}

// Bootstrap seeds fee settings when none are stored yet.
func (e *Engine) Bootstrap(ctx context.Context, s fees.Settings) error {
	var seeded bool
	err := e.run(ctx, func(tx *state.Tx) error {
		var err error
		seeded, err = fees.NewBook(tx).Bootstrap(ctx, s)
		return err
	})
	if err == nil && seeded {
		e.log.Info("fee settings initialised",
			zap.Uint32("default_fee", s.DefaultFee),
			zap.Uint32("fee_limit", s.FeeLimit),
			zap.String("fee_receiver", s.FeeReceiver.Hex()),
			zap.String("manager", s.Manager.Hex()),
		)
	}
	return err
}

func (e *Engine) withBook(ctx context.Context, fn func(b *fees.Book) error) error {
	return e.run(ctx, func(tx *state.Tx) error {
		return fn(fees.NewBook(tx))
	})
}

func (e *Engine) RegisterOrUpdateAgent(ctx context.Context, caller, agent common.Address, fraction uint32) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.RegisterOrUpdateAgent(ctx, caller, agent, fraction) })
}

func (e *Engine) SelectAgent(ctx context.Context, payer, agent common.Address) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.SelectAgent(ctx, payer, agent) })
}

func (e *Engine) SetCustomFee(ctx context.Context, caller, payer common.Address, fee uint32) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.SetCustomFee(ctx, caller, payer, fee) })
}

func (e *Engine) ClearSponsorship(ctx context.Context, caller, payer common.Address) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.ClearSponsorship(ctx, caller, payer) })
}

func (e *Engine) SetDefaultFee(ctx context.Context, caller common.Address, fee uint32) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.SetDefaultFee(ctx, caller, fee) })
}

func (e *Engine) SetFeeLimit(ctx context.Context, caller common.Address, limit uint32) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.SetFeeLimit(ctx, caller, limit) })
}

func (e *Engine) SetFeeReceiver(ctx context.Context, caller, receiver common.Address) error {
	return e.withBook(ctx, func(b *fees.Book) error { return b.SetFeeReceiver(ctx, caller, receiver) })
}
