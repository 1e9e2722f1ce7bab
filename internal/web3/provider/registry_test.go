package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ChainPilot/internal/config"
	"ChainPilot/internal/web3"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSimulatedFundsKeyring(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ring := web3.NewKeyring(key)

	network, err := Open(context.Background(), config.ProviderConfig{Network: "Simulated"}, ring)
	require.NoError(t, err)
	t.Cleanup(network.Close)

	balance, err := network.Client.Balance(context.Background(), ring.Addresses()[0])
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(simulatedFunding))
}

func TestOpenRejectsUnknownNetworkWithoutEndpoint(t *testing.T) {
	_, err := Open(context.Background(), config.ProviderConfig{Network: "sepolia"}, nil)
	assert.ErrorContains(t, err, "no rpc endpoint")
}

func TestOpenRejectsUnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains:\n  solana:\n    type: svm\n    rpc_url: http://127.0.0.1:8899\n"), 0o644))

	_, err := Open(context.Background(), config.ProviderConfig{Network: "solana", ChainsFile: path}, nil)
	assert.ErrorContains(t, err, "unsupported type")
}
