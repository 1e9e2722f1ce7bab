package provider

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"ChainPilot/internal/config"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/ethereum"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// SimulatedNetwork selects an in-process chain whose keyring accounts are
// pre-funded and every transfer is mined immediately.
const SimulatedNetwork = "simulated"

// simulatedFunding is the genesis balance of every keyring account, 100 ether.
var simulatedFunding = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Network is the chain client the tool provider serves, together with the
// resources it owns.
type Network struct {
	Name   string
	Client web3.Client
	sim    *simulated.Backend
}

// Open selects the configured network. The name is looked up in the chains
// file first, then provider.rpc_url is used as an anonymous endpoint.
func Open(ctx context.Context, cfg config.ProviderConfig, ring *web3.Keyring) (*Network, error) {
	name := strings.TrimSpace(cfg.Network)
	if strings.EqualFold(name, SimulatedNetwork) {
		return openSimulated(ring), nil
	}

	nets, err := web3.LoadNetworks(cfg.ChainsFile)
	if err != nil {
		return nil, err
	}

	ethCfg := ethereum.Config{Name: name, RPCURL: cfg.RPCURL}
	if net, ok := nets.Find(name); ok {
		ethCfg.RPCURL = net.RPCURL
		ethCfg.ENSRegistry = net.ENSRegistry
		ethCfg.Notes = net.Description
	}
	if strings.TrimSpace(ethCfg.RPCURL) == "" {
		return nil, fmt.Errorf("network %q has no rpc endpoint configured", name)
	}

	client, err := ethereum.NewClient(ctx, ethCfg, ethereum.WithKeyring(ring))
	if err != nil {
		return nil, fmt.Errorf("open network %s: %w", name, err)
	}
	return &Network{Name: name, Client: client}, nil
}

func openSimulated(ring *web3.Keyring) *Network {
	alloc := coretypes.GenesisAlloc{}
	for _, addr := range ring.Addresses() {
		alloc[addr] = coretypes.Account{Balance: new(big.Int).Set(simulatedFunding)}
	}
	sim := simulated.NewBackend(alloc)
	client := ethereum.NewSimulatedClient(SimulatedNetwork, sim,
		ethereum.WithKeyring(ring),
		ethereum.WithAutoCommit(true),
	)
	return &Network{Name: SimulatedNetwork, Client: client, sim: sim}
}

// Close releases the client and any in-process chain.
func (n *Network) Close() {
	if n == nil {
		return
	}
	if n.Client != nil {
		n.Client.Close()
	}
	if n.sim != nil {
		_ = n.sim.Close()
	}
}
