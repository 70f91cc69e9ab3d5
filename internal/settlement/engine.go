// Package settlement settles signed payment orders: it verifies the order,
// guards against replay, splits fees, pays rewards and forwards the payment
// in one atomic state transition.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0gfoundation/0g-pos-settlement/internal/brand"
	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/0gfoundation/0g-pos-settlement/internal/ledger"
	"github.com/0gfoundation/0g-pos-settlement/internal/metrics"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/rewards"
	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
	"github.com/0gfoundation/0g-pos-settlement/internal/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrMalformedOrder          = errors.New("settlement: malformed order")
	ErrSignatureMismatch       = errors.New("settlement: signature mismatch")
	ErrExpired                 = errors.New("settlement: order expired")
	ErrAlreadyProcessed        = errors.New("settlement: order already processed")
	ErrUnauthorizedBrandSigner = errors.New("settlement: signer not authorized for brand")
)

// maxAttempts bounds retries after a cross-process state conflict.
const maxAttempts = 3

// Request is one settlement call. Payment is the payment shape supplied by
// the submitter; nil means the order's own method.
type Request struct {
	Submitter common.Address
	Order     *order.PaymentOrder
	Payment   *order.PaymentMethod
}

// Engine is the in-process settlement contract. Its mutex serializes
// settlements within the process; Redis WATCH covers other processes.
type Engine struct {
	mu       sync.Mutex
	store    *state.Store
	brands   brand.Permissions
	verifier *sigverify.Registry
	domain   order.Domain
	emitter  Emitter
	metrics  *metrics.Metrics
	log      *zap.Logger
	nowFn    func() time.Time
}

// NewEngine binds an engine to its state, collaborators and signing domain.
// The domain's Engine address is the escrow account holding reward funds.
func NewEngine(store *state.Store, brands brand.Permissions, verifier *sigverify.Registry, domain order.Domain, log *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		brands:   brands,
		verifier: verifier,
		domain:   domain,
		emitter:  NoopEmitter{},
		log:      log,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter overrides the record emitter. Passing nil discards records.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetNowFunc overrides the clock used for expiry checks. Passing nil
// restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// Domain returns the signing domain orders are verified under.
func (e *Engine) Domain() order.Domain { return e.domain }

// Escrow is the account holding deposited reward funds.
func (e *Engine) Escrow() common.Address { return e.domain.Engine }

// run executes fn in a fresh transaction under the engine lock and commits
// it, retrying on conflict. fn's error discards the transaction.
func (e *Engine) run(ctx context.Context, fn func(tx *state.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx := e.store.Begin()
		if err = fn(tx); err != nil {
			tx.Discard()
			return err
		}
		if err = tx.Commit(ctx); !errors.Is(err, state.ErrConflict) {
			return err
		}
		e.log.Warn("state conflict, retrying", zap.Int("attempt", attempt))
	}
	return err
}

// Settle validates and settles req atomically. On any error nothing is
// written: no processed digest, no balance or pool change and no record.
func (e *Engine) Settle(ctx context.Context, req Request) (*Record, error) {
	start := time.Now()
	var rec *Record
	err := e.run(ctx, func(tx *state.Tx) error {
		var err error
		rec, err = e.execute(ctx, tx, req, e.nowFn())
		return err
	})
	outcome := Outcome(err)
	e.metrics.ObserveSettlement(outcome, time.Since(start))
	if err != nil {
		e.logFailure(req, outcome, err)
		return nil, err
	}

	e.metrics.RewardsDrawn(len(rec.Rewards))
	e.emitter.Emit(ctx, rec)
	e.log.Info("order settled",
		zap.String("digest", rec.Digest.Hex()),
		zap.String("signer", rec.Signer.Hex()),
		zap.String("submitter", rec.Submitter.Hex()),
		zap.String("method", rec.Method.String()),
		zap.Int("rewards", len(rec.Rewards)),
	)
	return rec, nil
}

// Preview runs every settlement check and computes the record without
// committing anything.
func (e *Engine) Preview(ctx context.Context, req Request) (*Record, error) {
	tx := e.store.Begin()
	defer tx.Discard()
	return e.execute(ctx, tx, req, e.nowFn())
}

func (e *Engine) logFailure(req Request, outcome string, err error) {
	fields := []zap.Field{zap.String("outcome", outcome), zap.Error(err)}
	if req.Order != nil {
		fields = append(fields,
			zap.String("signer", req.Order.POSAddress.Hex()),
			zap.String("reference", req.Order.Reference),
		)
	}
	if outcome == outcomeError {
		e.log.Error("settlement failed", fields...)
		return
	}
	e.log.Info("settlement rejected", fields...)
}

func (e *Engine) execute(ctx context.Context, tx *state.Tx, req Request, now time.Time) (*Record, error) {
	o := req.Order
	if o == nil {
		return nil, fmt.Errorf("%w: no order", ErrMalformedOrder)
	}
	if req.Submitter == (common.Address{}) {
		return nil, fmt.Errorf("%w: no submitter", ErrMalformedOrder)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOrder, err)
	}

	payment := o.Method
	if req.Payment != nil {
		if err := req.Payment.Validate(); err != nil {
			return nil, fmt.Errorf("%w: payment: %w", ErrMalformedOrder, err)
		}
		if !req.Payment.Equal(o.Method) {
			return nil, fmt.Errorf("%w: supplied %s payment differs from the signed one", ErrSignatureMismatch, req.Payment.Kind)
		}
		payment = *req.Payment
	}

	digest := order.DigestWith(o, payment, e.domain)
	signer, err := e.verifier.Recover(digest, o.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}
	if signer != o.POSAddress {
		return nil, fmt.Errorf("%w: recovered %s, order names %s", ErrSignatureMismatch, signer.Hex(), o.POSAddress.Hex())
	}

	settledAt := uint64(now.Unix())
	if settledAt > o.DueBy {
		return nil, fmt.Errorf("%w: due %d, now %d", ErrExpired, o.DueBy, settledAt)
	}

	processed, err := tx.IsProcessed(ctx, digest)
	if err != nil {
		return nil, err
	}
	if processed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, digest.Hex())
	}
	tx.MarkProcessed(digest, settledAt)

	committed := false
	if o.HasBrand() {
		ok, err := e.brands.IsSignerAuthorized(ctx, o.BrandAddress, o.POSAddress)
		if err != nil {
			return nil, fmt.Errorf("brand lookup: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s for brand %s", ErrUnauthorizedBrandSigner, o.POSAddress.Hex(), o.BrandAddress.Hex())
		}
		if committed, err = e.brands.IsBrandCommitted(ctx, o.BrandAddress); err != nil {
			return nil, fmt.Errorf("brand lookup: %w", err)
		}
	}

	book := fees.NewBook(tx)
	settings, err := book.Settings(ctx)
	if err != nil {
		return nil, err
	}
	split, err := book.ComputeSplit(ctx, o.POSAddress)
	if err != nil {
		return nil, err
	}
	if committed {
		split = fees.Split{}
	}

	accounts := ledger.NewAccounts(tx)
	pool := rewards.NewPool(tx, accounts, e.domain.Engine)
	rec := &Record{
		Digest:      digest,
		Signer:      signer,
		Submitter:   req.Submitter,
		Payee:       o.ToAddress,
		Brand:       o.BrandAddress,
		Reference:   o.Reference,
		Method:      payment.Kind,
		AssetIDs:    payment.AssetIDs,
		Amounts:     payment.Amounts,
		FeeReceiver: settings.FeeReceiver,
		Agent:       split.Agent,
		FeesWaived:  committed,
		SettledAt:   settledAt,
	}

	for i, id := range o.RewardAssetIDs {
		amount := o.RewardAmounts[i]
		if err := pool.Draw(ctx, o.POSAddress, id, amount, req.Submitter); err != nil {
			return nil, err
		}
		rec.Rewards = append(rec.Rewards, Reward{AssetID: id, Amount: amount})
	}

	if err := disburse(ctx, accounts, rec, payment, split); err != nil {
		return nil, err
	}
	return rec, nil
}

// disburse moves the payment from the submitter: platform fee to the fee
// receiver, agent fee to the agent and the rest to the payee.
func disburse(ctx context.Context, l ledger.Ledger, rec *Record, payment order.PaymentMethod, split fees.Split) error {
	for _, amount := range payment.Amounts {
		s := fees.Apply(amount, split)
		rec.PlatformFees = append(rec.PlatformFees, s.Platform)
		rec.AgentFees = append(rec.AgentFees, s.Agent)
		rec.Net = append(rec.Net, s.Net)
	}

	legs := []struct {
		to      common.Address
		amounts []*uint256.Int
	}{
		{rec.FeeReceiver, rec.PlatformFees},
		{split.Agent, rec.AgentFees},
		{rec.Payee, rec.Net},
	}
	for _, leg := range legs {
		if allZero(leg.amounts) {
			continue
		}
		var err error
		switch payment.Kind {
		case order.KindNative:
			err = l.NativeTransfer(ctx, rec.Submitter, leg.to, leg.amounts[0])
		case order.KindSingleAsset:
			err = l.Transfer(ctx, rec.Submitter, leg.to, payment.AssetIDs[0], leg.amounts[0])
		default:
			err = l.BatchTransfer(ctx, rec.Submitter, leg.to, payment.AssetIDs, leg.amounts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func allZero(xs []*uint256.Int) bool {
	for _, x := range xs {
		if !x.IsZero() {
			return false
		}
	}
	return true
}
