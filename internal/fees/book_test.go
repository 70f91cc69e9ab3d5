package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	settings *Settings
	agents   map[common.Address]Agent
	sponsors map[common.Address]Sponsorship
}

func newMemStore() *memStore {
	return &memStore{agents: map[common.Address]Agent{}, sponsors: map[common.Address]Sponsorship{}}
}

func (m *memStore) Settings(context.Context) (Settings, bool, error) {
	if m.settings == nil {
		return Settings{}, false, nil
	}
	return *m.settings, true, nil
}
func (m *memStore) PutSettings(s Settings) { m.settings = &s }
func (m *memStore) Agent(_ context.Context, a common.Address) (Agent, bool, error) {
	v, ok := m.agents[a]
	return v, ok, nil
}
func (m *memStore) PutAgent(a Agent) { m.agents[a.Address] = a }
func (m *memStore) Sponsorship(_ context.Context, p common.Address) (Sponsorship, bool, error) {
	v, ok := m.sponsors[p]
	return v, ok, nil
}
func (m *memStore) PutSponsorship(s Sponsorship)       { m.sponsors[s.Payer] = s }
func (m *memStore) DeleteSponsorship(p common.Address) { delete(m.sponsors, p) }

var (
	manager  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	agentA   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	agentB   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	payer    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newBook(t *testing.T) (*Book, *memStore) {
	t.Helper()
	st := newMemStore()
	b := NewBook(st)
	ok, err := b.Bootstrap(context.Background(), Settings{DefaultFee: 27, FeeLimit: 50, FeeReceiver: receiver, Manager: manager})
	require.NoError(t, err)
	require.True(t, ok)
	return b, st
}

func TestBootstrap_OnlyOnce(t *testing.T) {
	b, st := newBook(t)
	ok, err := b.Bootstrap(context.Background(), Settings{DefaultFee: 5, FeeLimit: 10, FeeReceiver: receiver, Manager: manager})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint32(27), st.settings.DefaultFee)

	_, err = NewBook(newMemStore()).Bootstrap(context.Background(), Settings{DefaultFee: 60, FeeLimit: 50, FeeReceiver: receiver, Manager: manager})
	require.ErrorIs(t, err, ErrInvalidDefaultFee)
}

func TestRegisterOrUpdateAgent(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)

	require.ErrorIs(t, b.RegisterOrUpdateAgent(ctx, payer, agentA, 600), ErrUnauthorized)
	require.ErrorIs(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 1000), ErrInvalidFeeFraction)
	require.ErrorIs(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 0), ErrAgentNotActive)

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.Equal(t, Agent{Address: agentA, FeeFraction: 600, Active: true}, st.agents[agentA])

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 0))
	require.Equal(t, Agent{Address: agentA, FeeFraction: 600, Active: false}, st.agents[agentA])

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 999))
	require.True(t, st.agents[agentA].Active)
}

func TestSelectAgent(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)

	require.ErrorIs(t, b.SelectAgent(ctx, payer, agentA), ErrAgentNotActive)

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))
	require.Equal(t, Sponsorship{Payer: payer, Agent: agentA, CustomFee: 27}, st.sponsors[payer])

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 0))
	require.ErrorIs(t, b.SelectAgent(ctx, payer, agentA), ErrAgentNotActive)
}

func TestSelectAgent_ResetsCustomFee(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)
	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))
	require.NoError(t, b.SetCustomFee(ctx, agentA, payer, 10))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))
	require.Equal(t, uint32(27), st.sponsors[payer].CustomFee)
}

func TestSetCustomFee(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)
	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentB, 100))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))

	require.ErrorIs(t, b.SetCustomFee(ctx, agentB, payer, 10), ErrAgentMismatch)
	require.ErrorIs(t, b.SetCustomFee(ctx, agentA, payer, 0), ErrInvalidCustomFee)
	require.ErrorIs(t, b.SetCustomFee(ctx, agentA, payer, 51), ErrInvalidCustomFee)

	require.NoError(t, b.SetCustomFee(ctx, agentA, payer, 50))
	require.Equal(t, uint32(50), st.sponsors[payer].CustomFee)

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 0))
	require.ErrorIs(t, b.SetCustomFee(ctx, agentA, payer, 40), ErrAgentMismatch)
}

func TestClearSponsorship(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)
	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))

	require.ErrorIs(t, b.ClearSponsorship(ctx, agentA, payer), ErrUnauthorized)
	require.NoError(t, b.ClearSponsorship(ctx, payer, payer))
	require.NotContains(t, st.sponsors, payer)
	require.ErrorIs(t, b.ClearSponsorship(ctx, manager, payer), ErrNoSponsorship)
}

func TestSettingsSurface(t *testing.T) {
	ctx := context.Background()
	b, st := newBook(t)

	require.ErrorIs(t, b.SetDefaultFee(ctx, payer, 10), ErrUnauthorized)
	require.ErrorIs(t, b.SetDefaultFee(ctx, manager, 51), ErrInvalidDefaultFee)
	require.NoError(t, b.SetDefaultFee(ctx, manager, 30))

	require.ErrorIs(t, b.SetFeeLimit(ctx, manager, 29), ErrInvalidFeeLimit)
	require.ErrorIs(t, b.SetFeeLimit(ctx, manager, 1000), ErrInvalidFeeLimit)
	require.NoError(t, b.SetFeeLimit(ctx, manager, 30))

	require.ErrorIs(t, b.SetFeeReceiver(ctx, manager, common.Address{}), ErrZeroAddress)
	require.NoError(t, b.SetFeeReceiver(ctx, manager, agentB))

	require.Equal(t, Settings{DefaultFee: 30, FeeLimit: 30, FeeReceiver: agentB, Manager: manager}, *st.settings)

	_, err := NewBook(newMemStore()).ComputeSplit(ctx, payer)
	require.True(t, errors.Is(err, ErrNotConfigured))
}

// ── ComputeSplit + Apply ────────────────────────────────────────────────────

func TestComputeSplit(t *testing.T) {
	ctx := context.Background()
	b, _ := newBook(t)

	split, err := b.ComputeSplit(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, Split{PlatformPPM: 27_000}, split)

	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 600))
	require.NoError(t, b.SelectAgent(ctx, payer, agentA))
	split, err = b.ComputeSplit(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, Split{PlatformPPM: 10_800, AgentPPM: 16_200, Agent: agentA}, split)

	// A deactivated agent forfeits its share to the platform.
	require.NoError(t, b.RegisterOrUpdateAgent(ctx, manager, agentA, 0))
	split, err = b.ComputeSplit(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, Split{PlatformPPM: 27_000}, split)
}

func TestApply(t *testing.T) {
	split := Split{PlatformPPM: 10_800, AgentPPM: 16_200, Agent: agentA}
	cases := []struct {
		amount, platform, agent, net uint64
	}{
		{10, 0, 0, 10},
		{1_000_000, 10_800, 16_200, 973_000},
		{999, 10, 16, 973},
		{0, 0, 0, 0},
	}
	for _, tc := range cases {
		s := Apply(uint256.NewInt(tc.amount), split)
		require.Equal(t, tc.platform, s.Platform.Uint64(), "platform of %d", tc.amount)
		require.Equal(t, tc.agent, s.Agent.Uint64(), "agent of %d", tc.amount)
		require.Equal(t, tc.net, s.Net.Uint64(), "net of %d", tc.amount)
	}
}

func TestApply_MaxAmountConserves(t *testing.T) {
	maxAmt := new(uint256.Int).SetAllOne()
	s := Apply(maxAmt, Split{PlatformPPM: 1_000, AgentPPM: 998_000})
	sum := new(uint256.Int).Add(s.Platform, s.Agent)
	sum.Add(sum, s.Net)
	require.True(t, sum.Eq(maxAmt))
	require.True(t, s.Net.Lt(maxAmt))
}
