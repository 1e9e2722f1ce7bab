package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultENSRegistry is the ENS registry deployed on mainnet and most public testnets.
const DefaultENSRegistry = "0x00000000000C2E074eC69A0bFb2997BA6C7d2e1e"

const erc20ABIJSON = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

const ensABIJSON = `[
 {"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"resolver","outputs":[{"name":"","type":"address"}],"type":"function"},
 {"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"addr","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

var (
	erc20ABI = mustParseABI(erc20ABIJSON)
	ensABI   = mustParseABI(ensABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

func ensRegistryAddress(raw string) common.Address {
	raw = strings.TrimSpace(raw)
	if raw == "" || !common.IsHexAddress(raw) {
		raw = DefaultENSRegistry
	}
	return common.HexToAddress(raw)
}

// TokenBalance reads balanceOf, decimals and symbol from an ERC-20 contract.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (web3.TokenBalance, error) {
	b, err := c.chain()
	if err != nil {
		return web3.TokenBalance{}, err
	}
	code, err := b.CodeAt(ctx, token, nil)
	if err != nil {
		return web3.TokenBalance{}, fmt.Errorf("fetch token code: %w", err)
	}
	if len(code) == 0 {
		return web3.TokenBalance{}, web3.ErrNotContract
	}

	out := web3.TokenBalance{Token: token, Holder: holder}
	var balance *big.Int
	if err := c.call(ctx, b, erc20ABI, token, "balanceOf", &balance, holder); err != nil {
		return web3.TokenBalance{}, err
	}
	out.Balance = balance
	if err := c.call(ctx, b, erc20ABI, token, "decimals", &out.Decimals); err != nil {
		return web3.TokenBalance{}, err
	}
	// symbol is optional in ERC-20.
	if err := c.call(ctx, b, erc20ABI, token, "symbol", &out.Symbol); err != nil {
		out.Symbol = ""
	}
	return out, nil
}

// ResolveName resolves an ENS name through the registry and its resolver.
func (c *Client) ResolveName(ctx context.Context, name string) (common.Address, error) {
	b, err := c.chain()
	if err != nil {
		return common.Address{}, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return common.Address{}, web3.ErrNameNotFound
	}

	code, err := b.CodeAt(ctx, c.ensRegistry, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("fetch ens registry code: %w", err)
	}
	if len(code) == 0 {
		return common.Address{}, web3.ErrNameNotFound
	}

	node := NameHash(name)
	var resolver common.Address
	if err := c.call(ctx, b, ensABI, c.ensRegistry, "resolver", &resolver, node); err != nil {
		return common.Address{}, err
	}
	if resolver == (common.Address{}) {
		return common.Address{}, web3.ErrNameNotFound
	}
	var addr common.Address
	if err := c.call(ctx, b, ensABI, resolver, "addr", &addr, node); err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, web3.ErrNameNotFound
	}
	return addr, nil
}

func (c *Client) call(ctx context.Context, b backend, contract abi.ABI, to common.Address, method string, out any, args ...any) error {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := b.CallContract(ctx, gethcore.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	if err := contract.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}

// NameHash implements the ENS namehash algorithm.
func NameHash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], labelHash))
	}
	return node
}
