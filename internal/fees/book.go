package fees

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the staged record store the Book reads and writes.
type Store interface {
	Settings(ctx context.Context) (Settings, bool, error)
	PutSettings(s Settings)
	Agent(ctx context.Context, addr common.Address) (Agent, bool, error)
	PutAgent(a Agent)
	Sponsorship(ctx context.Context, payer common.Address) (Sponsorship, bool, error)
	PutSponsorship(s Sponsorship)
	DeleteSponsorship(payer common.Address)
}

// Book applies fee rules on top of a Store.
type Book struct {
	store Store
}

func NewBook(store Store) *Book {
	return &Book{store: store}
}

// Settings returns the stored settings or ErrNotConfigured.
func (b *Book) Settings(ctx context.Context) (Settings, error) {
	s, ok, err := b.store.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return Settings{}, ErrNotConfigured
	}
	return s, nil
}

// Bootstrap stores s when no settings exist yet. It reports whether it did.
func (b *Book) Bootstrap(ctx context.Context, s Settings) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	_, ok, err := b.store.Settings(ctx)
	if err != nil || ok {
		return false, err
	}
	b.store.PutSettings(s)
	return true, nil
}

// RequireManager fails with ErrUnauthorized unless caller is the manager.
func (b *Book) RequireManager(ctx context.Context, caller common.Address) (Settings, error) {
	s, err := b.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if caller != s.Manager {
		return Settings{}, ErrUnauthorized
	}
	return s, nil
}

// RegisterOrUpdateAgent sets an agent's fee fraction. A zero fraction
// deactivates the agent and keeps its previous fraction.
func (b *Book) RegisterOrUpdateAgent(ctx context.Context, caller, agent common.Address, fraction uint32) error {
	if _, err := b.RequireManager(ctx, caller); err != nil {
		return err
	}
	if agent == (common.Address{}) {
		return ErrZeroAddress
	}
	if fraction == 0 {
		a, ok, err := b.store.Agent(ctx, agent)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotActive, agent.Hex())
		}
		a.Active = false
		b.store.PutAgent(a)
		return nil
	}
	if fraction > MaxFraction {
		return ErrInvalidFeeFraction
	}
	b.store.PutAgent(Agent{Address: agent, FeeFraction: fraction, Active: true})
	return nil
}

// SelectAgent assigns payer to an active agent. The custom fee is reset to
// the current default, capped by the limit.
func (b *Book) SelectAgent(ctx context.Context, payer, agent common.Address) error {
	s, err := b.Settings(ctx)
	if err != nil {
		return err
	}
	if payer == (common.Address{}) || agent == (common.Address{}) {
		return ErrZeroAddress
	}
	a, ok, err := b.store.Agent(ctx, agent)
	if err != nil {
		return err
	}
	if !ok || !a.Active {
		return fmt.Errorf("%w: %s", ErrAgentNotActive, agent.Hex())
	}
	b.store.PutSponsorship(Sponsorship{
		Payer:     payer,
		Agent:     agent,
		CustomFee: min(s.DefaultFee, s.FeeLimit),
	})
	return nil
}

// SetCustomFee lets the payer's active agent negotiate the payer's fee.
func (b *Book) SetCustomFee(ctx context.Context, caller, payer common.Address, fee uint32) error {
	s, err := b.Settings(ctx)
	if err != nil {
		return err
	}
	sp, ok, err := b.store.Sponsorship(ctx, payer)
	if err != nil {
		return err
	}
	if !ok || sp.Agent != caller {
		return ErrAgentMismatch
	}
	a, ok, err := b.store.Agent(ctx, caller)
	if err != nil {
		return err
	}
	if !ok || !a.Active {
		return ErrAgentMismatch
	}
	if fee == 0 || fee > s.FeeLimit {
		return ErrInvalidCustomFee
	}
	sp.CustomFee = fee
	b.store.PutSponsorship(sp)
	return nil
}

// ClearSponsorship removes payer's sponsorship. The payer or the manager may
// call it.
func (b *Book) ClearSponsorship(ctx context.Context, caller, payer common.Address) error {
	s, err := b.Settings(ctx)
	if err != nil {
		return err
	}
	if caller != payer && caller != s.Manager {
		return ErrUnauthorized
	}
	_, ok, err := b.store.Sponsorship(ctx, payer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSponsorship
	}
	b.store.DeleteSponsorship(payer)
	return nil
}

func (b *Book) SetDefaultFee(ctx context.Context, caller common.Address, fee uint32) error {
	s, err := b.RequireManager(ctx, caller)
	if err != nil {
		return err
	}
	if fee == 0 || fee > s.FeeLimit {
		return ErrInvalidDefaultFee
	}
	s.DefaultFee = fee
	b.store.PutSettings(s)
	return nil
}

func (b *Book) SetFeeLimit(ctx context.Context, caller common.Address, limit uint32) error {
	s, err := b.RequireManager(ctx, caller)
	if err != nil {
		return err
	}
	if limit == 0 || limit > MaxFraction || limit < s.DefaultFee {
		return ErrInvalidFeeLimit
	}
	s.FeeLimit = limit
	b.store.PutSettings(s)
	return nil
}

func (b *Book) SetFeeReceiver(ctx context.Context, caller, receiver common.Address) error {
	s, err := b.RequireManager(ctx, caller)
	if err != nil {
		return err
	}
	if receiver == (common.Address{}) {
		return ErrZeroAddress
	}
	s.FeeReceiver = receiver
	b.store.PutSettings(s)
	return nil
}

// ComputeSplit returns the split that applies to payments signed by payer.
// Without an active sponsoring agent the whole fee goes to the platform.
func (b *Book) ComputeSplit(ctx context.Context, payer common.Address) (Split, error) {
	s, err := b.Settings(ctx)
	if err != nil {
		return Split{}, err
	}
	fee := s.DefaultFee
	sp, ok, err := b.store.Sponsorship(ctx, payer)
	if err != nil {
		return Split{}, err
	}
	if !ok {
		return Split{PlatformPPM: uint64(fee) * Denominator}, nil
	}
	if sp.CustomFee != 0 {
		fee = min(sp.CustomFee, s.FeeLimit)
	}
	a, found, err := b.store.Agent(ctx, sp.Agent)
	if err != nil {
		return Split{}, err
	}
	if !found || !a.Active {
		return Split{PlatformPPM: uint64(fee) * Denominator}, nil
	}
	c, frac := uint64(fee), uint64(a.FeeFraction)
	return Split{
		PlatformPPM: c * (Denominator - frac),
		AgentPPM:    c * frac,
		Agent:       a.Address,
	}, nil
}
