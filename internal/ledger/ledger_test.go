package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type memBalances struct {
	native map[common.Address]uint256.Int
	assets map[common.Address]map[uint256.Int]uint256.Int
}

func newMemBalances() *memBalances {
	return &memBalances{
		native: map[common.Address]uint256.Int{},
		assets: map[common.Address]map[uint256.Int]uint256.Int{},
	}
}

func (m *memBalances) NativeBalance(_ context.Context, a common.Address) (*uint256.Int, error) {
	v := m.native[a]
	return &v, nil
}
func (m *memBalances) PutNativeBalance(a common.Address, amt *uint256.Int) { m.native[a] = *amt }
func (m *memBalances) AssetBalance(_ context.Context, a common.Address, id *uint256.Int) (*uint256.Int, error) {
	v := m.assets[a][*id]
	return &v, nil
}
func (m *memBalances) PutAssetBalance(a common.Address, id, amt *uint256.Int) {
	if m.assets[a] == nil {
		m.assets[a] = map[uint256.Int]uint256.Int{}
	}
	m.assets[a][*id] = *amt
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func balance(t *testing.T, a *Accounts, who common.Address, id *uint256.Int) uint64 {
	t.Helper()
	b, err := a.Balance(context.Background(), who, id)
	require.NoError(t, err)
	return b.Uint64()
}

func TestNativeTransfer(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(newMemBalances())
	require.NoError(t, a.Mint(ctx, alice, nil, u(100)))

	require.NoError(t, a.NativeTransfer(ctx, alice, bob, u(40)))
	require.Equal(t, uint64(60), balance(t, a, alice, nil))
	require.Equal(t, uint64(40), balance(t, a, bob, nil))

	require.ErrorIs(t, a.NativeTransfer(ctx, alice, bob, u(61)), ErrInsufficientBalance)
	require.Equal(t, uint64(60), balance(t, a, alice, nil))
}

func TestTransfer_AssetsAreSeparate(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(newMemBalances())
	require.NoError(t, a.Mint(ctx, alice, u(1), u(10)))
	require.NoError(t, a.Mint(ctx, alice, nil, u(10)))

	require.ErrorIs(t, a.Transfer(ctx, alice, bob, u(2), u(1)), ErrInsufficientBalance)
	require.NoError(t, a.Transfer(ctx, alice, bob, u(1), u(10)))
	require.Equal(t, uint64(10), balance(t, a, bob, u(1)))
	require.Equal(t, uint64(0), balance(t, a, bob, nil))
	require.Error(t, a.Transfer(ctx, alice, bob, nil, u(1)))
}

func TestTransfer_ZeroAndSelf(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(newMemBalances())
	require.NoError(t, a.Transfer(ctx, alice, bob, u(1), u(0)))
	require.NoError(t, a.Mint(ctx, alice, u(1), u(5)))
	require.NoError(t, a.Transfer(ctx, alice, alice, u(1), u(5)))
	require.Equal(t, uint64(5), balance(t, a, alice, u(1)))
}

func TestBatchTransfer_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(newMemBalances())
	require.NoError(t, a.Mint(ctx, alice, u(1), u(10)))
	require.NoError(t, a.Mint(ctx, alice, u(2), u(5)))

	// Repeated ids are summed: 6 + 6 > 10.
	err := a.BatchTransfer(ctx, alice, bob, []*uint256.Int{u(2), u(1), u(1)}, []*uint256.Int{u(5), u(6), u(6)})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(5), balance(t, a, alice, u(2)))
	require.Equal(t, uint64(0), balance(t, a, bob, u(2)))

	require.ErrorIs(t, a.BatchTransfer(ctx, alice, bob, []*uint256.Int{u(1)}, nil), ErrLengthMismatch)

	require.NoError(t, a.BatchTransfer(ctx, alice, bob, []*uint256.Int{u(1), u(2)}, []*uint256.Int{u(10), u(5)}))
	require.Equal(t, uint64(10), balance(t, a, bob, u(1)))
	require.Equal(t, uint64(5), balance(t, a, bob, u(2)))
}

func TestMint_Overflow(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(newMemBalances())
	require.NoError(t, a.Mint(ctx, alice, nil, new(uint256.Int).SetAllOne()))
	require.ErrorIs(t, a.Mint(ctx, alice, nil, u(1)), ErrBalanceOverflow)
}
