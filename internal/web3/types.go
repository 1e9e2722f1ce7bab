package web3

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot summarises network metadata for status output.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// TokenBalance is an ERC-20 balance together with the token's metadata.
type TokenBalance struct {
	Token    common.Address
	Holder   common.Address
	Balance  *big.Int
	Decimals uint8
	Symbol   string
}

// TxState is the lifecycle state of a submitted transaction as seen by the node.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// TxStatus is the node's view of a transaction.
type TxStatus struct {
	Hash        common.Hash
	State       TxState
	BlockNumber uint64
}

// TransferRequest moves native currency between two accounts.
type TransferRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Client is the chain access surface the tool provider is built on.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (TokenBalance, error)
	Code(ctx context.Context, account common.Address) ([]byte, error)
	Transfer(ctx context.Context, req TransferRequest) (common.Hash, error)
	TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error)
	ResolveName(ctx context.Context, name string) (common.Address, error)
	Close()
}

var (
	// ErrNoSigner is returned when neither a local key nor the node can sign for an account.
	ErrNoSigner = errors.New("web3: no signer available for account")
	// ErrNameNotFound is returned when a name does not resolve to an address.
	ErrNameNotFound = errors.New("web3: name not found")
	// ErrNotContract is returned when a token call targets an address without code.
	ErrNotContract = errors.New("web3: address has no contract code")
	// ErrTxNotFound is returned when the node knows nothing about a transaction.
	ErrTxNotFound = errors.New("web3: transaction not found")
)
