// Package toolrpc defines the request/response contract between ChainPilot
// and a tool provider, and carries it over JSON-RPC 2.0 using go-ethereum's
// rpc package. Every call is the method "tools_call" with a single
// {tool_name, arguments} object; "tools_list" reports the served tool names.
package toolrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Namespace is the JSON-RPC namespace the provider registers its service under.
const Namespace = "tools"

// ToolName is the closed set of tools a provider may serve.
type ToolName string

const (
	ToolGetAccounts        ToolName = "get_accounts"
	ToolGetSigningMaterial ToolName = "get_signing_material"
	ToolBalance            ToolName = "balance"
	ToolTokenBalance       ToolName = "token_balance"
	ToolTransfer           ToolName = "transfer"
	ToolTransactionStatus  ToolName = "transaction_status"
	ToolIsDeployed         ToolName = "is_deployed"
	ToolResolveName        ToolName = "resolve_name"
	ToolChainInfo          ToolName = "chain_info"
)

// AllTools lists every tool name in a stable order.
var AllTools = []ToolName{
	ToolGetAccounts,
	ToolGetSigningMaterial,
	ToolBalance,
	ToolTokenBalance,
	ToolTransfer,
	ToolTransactionStatus,
	ToolIsDeployed,
	ToolResolveName,
	ToolChainInfo,
}

// Valid reports whether n belongs to the closed tool set.
func (n ToolName) Valid() bool {
	for _, t := range AllTools {
		if t == n {
			return true
		}
	}
	return false
}

// Mutating reports whether the tool changes chain state.
func (n ToolName) Mutating() bool {
	return n == ToolTransfer
}

// Argument names shared by both sides of the protocol.
const (
	ArgAddress = "address"
	ArgToken   = "token"
	ArgFrom    = "from"
	ArgTo      = "to"
	ArgAmount  = "amount"
	ArgTxID    = "transaction_identifier"
	ArgName    = "name"
)

// Arguments maps argument names to already resolved values. Addresses are
// common.Address and amounts are *big.Int in base units.
type Arguments map[string]any

// Address returns the address argument under key.
func (a Arguments) Address(key string) (common.Address, bool) {
	v, ok := a[key].(common.Address)
	return v, ok
}

// Amount returns the base-unit amount under key.
func (a Arguments) Amount(key string) (*big.Int, bool) {
	v, ok := a[key].(*big.Int)
	return v, ok && v != nil
}

// Request is what the dispatcher sends to the provider.
type Request struct {
	Tool      ToolName  `json:"tool_name"`
	Arguments Arguments `json:"arguments"`
}

// RawRequest is the provider-side view of a Request; arguments are decoded
// per tool into typed structs.
type RawRequest struct {
	Tool      ToolName        `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// DecodeArguments unmarshals the arguments into out.
func (r RawRequest) DecodeArguments(out any) error {
	if len(r.Arguments) == 0 || string(r.Arguments) == "null" {
		return errors.New("missing arguments")
	}
	if err := json.Unmarshal(r.Arguments, out); err != nil {
		return fmt.Errorf("decode %s arguments: %w", r.Tool, err)
	}
	return nil
}

// ToolError is the structured failure a provider reports.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Provider-side failure codes.
const (
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeUnknownTool     = "UNKNOWN_TOOL"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNodeError       = "NODE_ERROR"
)

// Response is the provider's answer: either a payload or a ToolError.
type Response struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ToolError      `json:"error,omitempty"`
}

// OK wraps payload in a successful response.
func OK(payload any) (*Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Response{Success: true, Payload: raw}, nil
}

// Fail builds a structured failure response.
func Fail(code, format string, args ...any) *Response {
	return &Response{Error: &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// Decode unmarshals the payload into out.
func (r *Response) Decode(out any) error {
	if r == nil || !r.Success {
		return errors.New("response carries no payload")
	}
	if err := json.Unmarshal(r.Payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Typed argument shapes decoded by the provider.
type (
	AddressArgs struct {
		Address common.Address `json:"address"`
	}
	TokenBalanceArgs struct {
		Token   common.Address `json:"token"`
		Address common.Address `json:"address"`
	}
	TransferArgs struct {
		From   common.Address `json:"from"`
		To     common.Address `json:"to"`
		Amount *big.Int       `json:"amount"`
	}
	TransactionStatusArgs struct {
		TransactionID common.Hash `json:"transaction_identifier"`
	}
	ResolveNameArgs struct {
		Name string `json:"name"`
	}
)

// Payload shapes returned by the provider.
type (
	Account struct {
		Address       common.Address `json:"address"`
		Alias         string         `json:"alias,omitempty"`
		HasSigningKey bool           `json:"has_signing_key"`
	}
	SigningMaterial struct {
		Address    common.Address `json:"address"`
		PrivateKey string         `json:"private_key"`
	}
	BalancePayload struct {
		Address  common.Address `json:"address"`
		Balance  string         `json:"balance"`
		Decimals int            `json:"decimals"`
		Symbol   string         `json:"symbol"`
	}
	TransferPayload struct {
		TransactionID string `json:"transaction_identifier"`
	}
	TransactionStatusPayload struct {
		State       string `json:"state"`
		BlockNumber uint64 `json:"block_number,omitempty"`
	}
	DeploymentPayload struct {
		Address  common.Address `json:"address"`
		Deployed bool           `json:"deployed"`
	}
	ResolveNamePayload struct {
		Name    string         `json:"name"`
		Address common.Address `json:"address"`
	}
	ChainInfoPayload struct {
		Network     string `json:"network"`
		ChainID     string `json:"chain_id"`
		BlockNumber string `json:"block_number"`
	}
)

// Transaction states reported by transaction_status.
const (
	TxStatePending   = "pending"
	TxStateConfirmed = "confirmed"
	TxStateFailed    = "failed"
)
