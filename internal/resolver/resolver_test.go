package resolver

import (
	"context"
	"errors"
	"testing"

	"ChainPilot/internal/directory"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/toolrpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	vitaly = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")
)

type mapDirectory map[string]common.Address

func (m mapDirectory) Lookup(ref string) (directory.Account, error) {
	if addr, ok := m[ref]; ok {
		return directory.Account{Alias: ref, Address: addr}, nil
	}
	return directory.Account{}, directory.ErrAccountNotFound
}

type fakeNames struct {
	names map[string]common.Address
	err   error
	calls int
}

func (f *fakeNames) ResolveName(_ context.Context, name string) (common.Address, error) {
	f.calls++
	if f.err != nil {
		return common.Address{}, f.err
	}
	if addr, ok := f.names[name]; ok {
		return addr, nil
	}
	return common.Address{}, toolrpc.Rejected(toolrpc.ToolResolveName, toolrpc.ErrCodeNotFound, "no such name")
}

func newResolver(names *fakeNames) *Resolver {
	return New(mapDirectory{"alice": alice, "bob.eth": common.HexToAddress("0xbb")}, names, []string{"eth"})
}

func TestResolvePriority(t *testing.T) {
	names := &fakeNames{names: map[string]common.Address{"vitalik.eth": vitaly, "bob.eth": vitaly}}
	r := newResolver(names)
	ctx := context.Background()

	addr, err := r.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, addr)

	// 目录别名优先于域名服务。
	addr, err = r.Resolve(ctx, "bob.eth")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xbb"), addr)

	addr, err = r.Resolve(ctx, "Vitalik.ETH")
	require.NoError(t, err)
	assert.Equal(t, vitaly, addr)
	assert.Equal(t, 1, names.calls)
}

func TestHexPassThroughIsIdempotent(t *testing.T) {
	r := newResolver(&fakeNames{})
	ctx := context.Background()

	raw := "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	first, err := r.Resolve(ctx, raw)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, first.Hex())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	fromAlias, err := r.Resolve(ctx, "alice")
	require.NoError(t, err)
	again, err := r.Resolve(ctx, fromAlias.Hex())
	require.NoError(t, err)
	assert.Equal(t, fromAlias, again)
}

func TestUnresolvedReferences(t *testing.T) {
	names := &fakeNames{}
	r := newResolver(names)

	for _, ref := range []string{"", "carol", "0x1234", "nobody.eth", ".eth"} {
		_, err := r.Resolve(context.Background(), ref)
		require.Error(t, err, ref)
		assert.Equal(t, CodeUnresolvedAddress, xerrors.CodeOf(err), ref)
	}
	// carol 没有后缀，不应触发域名查询。
	assert.Equal(t, 1, names.calls)
}

func TestNameServiceOutagePropagates(t *testing.T) {
	r := newResolver(&fakeNames{err: toolrpc.Unavailable(toolrpc.ToolResolveName, errors.New("dial tcp: refused"))})

	_, err := r.Resolve(context.Background(), "vitalik.eth")
	assert.Equal(t, toolrpc.CodeToolUnavailable, xerrors.CodeOf(err))
}
