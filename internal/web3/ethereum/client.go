package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	ENSRegistry string
	Notes       string
}

// backend is the subset of chain access shared by ethclient.Client and the
// simulated backend client.
type backend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*coretypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Option customises a Client.
type Option func(*Client)

// WithKeyring installs local signing keys. Accounts with a key are signed
// locally, all others fall back to the node's eth_sendTransaction.
func WithKeyring(k *web3.Keyring) Option {
	return func(c *Client) {
		c.keyring = k
	}
}

// WithAutoCommit mines a block after every submitted transaction. Only
// meaningful for the simulated backend.
func WithAutoCommit(enabled bool) Option {
	return func(c *Client) {
		c.autoCommit = enabled
	}
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	backend     backend
	sim         *simulated.Backend
	keyring     *web3.Keyring
	ensRegistry common.Address
	autoCommit  bool
	chainID     *big.Int
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("ethereum: rpc url is required")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	c := &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		eth:         eth,
		backend:     eth,
		ensRegistry: ensRegistryAddress(cfg.ENSRegistry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. The backend is
// owned by the caller.
func NewSimulatedClient(name string, sim *simulated.Backend, opts ...Option) *Client {
	c := &Client{
		name:        name,
		notes:       "simulated backend",
		backend:     sim.Client(),
		sim:         sim,
		ensRegistry: ensRegistryAddress(""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

func (c *Client) chain() (backend, error) {
	if c == nil {
		return nil, errors.New("ethereum: client not initialised")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("ethereum: client closed")
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	b, err := c.chain()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := c.resolveChainID(ctx, b)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := b.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch block number: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Accounts lists locally held keys first, followed by accounts the node
// manages itself.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	if _, err := c.chain(); err != nil {
		return nil, err
	}
	accounts := c.keyring.Addresses()
	if c.rpcClient == nil {
		return accounts, nil
	}

	var remote []common.Address
	if err := c.rpcClient.CallContext(ctx, &remote, "eth_accounts"); err != nil {
		if len(accounts) > 0 {
			// Nodes without account management reject eth_accounts.
			return accounts, nil
		}
		return nil, fmt.Errorf("list node accounts: %w", err)
	}
	seen := make(map[common.Address]struct{}, len(accounts))
	for _, addr := range accounts {
		seen[addr] = struct{}{}
	}
	for _, addr := range remote {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

// Balance returns the latest native balance of account in wei.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	balance, err := b.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	return balance, nil
}

// Code returns the deployed bytecode at account.
func (c *Client) Code(ctx context.Context, account common.Address) ([]byte, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	code, err := b.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch code: %w", err)
	}
	return code, nil
}

// Transfer submits a native value transfer and returns its hash without
// waiting for inclusion.
func (c *Client) Transfer(ctx context.Context, req web3.TransferRequest) (common.Hash, error) {
	b, err := c.chain()
	if err != nil {
		return common.Hash{}, err
	}
	if req.Value == nil || req.Value.Sign() < 0 {
		return common.Hash{}, errors.New("ethereum: transfer value must be non-negative")
	}

	if key, ok := c.keyring.Key(req.From); ok {
		tx, err := c.buildTransfer(ctx, b, req)
		if err != nil {
			return common.Hash{}, err
		}
		chainID, err := c.resolveChainID(ctx, b)
		if err != nil {
			return common.Hash{}, err
		}
		signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
		if err != nil {
			return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
		}
		if err := b.SendTransaction(ctx, signed); err != nil {
			return common.Hash{}, fmt.Errorf("send transaction: %w", err)
		}
		c.commit()
		return signed.Hash(), nil
	}

	if c.rpcClient == nil {
		return common.Hash{}, web3.ErrNoSigner
	}
	var hash common.Hash
	err = c.rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", map[string]any{
		"from":  req.From,
		"to":    req.To,
		"value": (*hexutil.Big)(req.Value),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction via node: %w", err)
	}
	return hash, nil
}

func (c *Client) buildTransfer(ctx context.Context, b backend, req web3.TransferRequest) (*coretypes.Transaction, error) {
	nonce, err := b.PendingNonceAt(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	to := req.To
	gas, err := b.EstimateGas(ctx, gethcore.CallMsg{From: req.From, To: &to, Value: req.Value})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	chainID, err := c.resolveChainID(ctx, b)
	if err != nil {
		return nil, err
	}
	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int).Set(req.Value),
	}), nil
}

// indexingInProgress is the message nodes return for receipt and transaction
// lookups while the transaction index lags behind the chain head. It arrives
// as a plain RPC error, so only the text identifies it.
const indexingInProgress = "transaction indexing is in progress"

// notYetIndexed reports whether err means the node has no record of the hash
// yet: either NotFound or the indexing-in-progress error.
func notYetIndexed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gethcore.NotFound) || strings.Contains(err.Error(), indexingInProgress)
}

// TransactionStatus reports whether hash is pending, confirmed or failed.
func (c *Client) TransactionStatus(ctx context.Context, hash common.Hash) (web3.TxStatus, error) {
	b, err := c.chain()
	if err != nil {
		return web3.TxStatus{}, err
	}
	receipt, err := b.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		state := web3.TxConfirmed
		if receipt.Status != coretypes.ReceiptStatusSuccessful {
			state = web3.TxFailed
		}
		status := web3.TxStatus{Hash: hash, State: state}
		if receipt.BlockNumber != nil {
			status.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return status, nil
	case !notYetIndexed(err):
		return web3.TxStatus{}, fmt.Errorf("fetch receipt: %w", err)
	}

	_, _, err = b.TransactionByHash(ctx, hash)
	if notYetIndexed(err) {
		return web3.TxStatus{}, web3.ErrTxNotFound
	}
	if err != nil {
		return web3.TxStatus{}, fmt.Errorf("fetch transaction: %w", err)
	}
	return web3.TxStatus{Hash: hash, State: web3.TxPending}, nil
}

func (c *Client) resolveChainID(ctx context.Context, b backend) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	id, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) commit() {
	if c.autoCommit && c.sim != nil {
		c.sim.Commit()
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
