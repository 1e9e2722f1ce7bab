// Package toolserver 实现工具提供方：把 toolrpc 协议中的工具调用翻译为对链的访问。
package toolserver

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/web3"
	"ChainPilot/pkg/logger"
)

// NativeDecimals 是原生资产 (ETH) 的精度。
const NativeDecimals = 18

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithNetworkName 设置 chain_info 中报告的网络名称。
func WithNetworkName(name string) Option {
	return func(s *Service) {
		s.network = name
	}
}

// WithSigningMaterialExposed 允许 get_signing_material 返回私钥。默认禁止。
func WithSigningMaterialExposed(enabled bool) Option {
	return func(s *Service) {
		s.exposeKeys = enabled
	}
}

// WithAliases 按账户顺序为 get_accounts 的结果附加别名。
func WithAliases(aliases []string) Option {
	return func(s *Service) {
		s.aliases = append([]string(nil), aliases...)
	}
}

// WithNativeSymbol 覆盖原生资产符号。
func WithNativeSymbol(symbol string) Option {
	return func(s *Service) {
		if strings.TrimSpace(symbol) != "" {
			s.nativeSymbol = strings.ToUpper(symbol)
		}
	}
}

// Service 实现 toolrpc.Service。注意：导出方法都会暴露为 JSON-RPC 方法，
// 因此只导出 Call 与 List。
type Service struct {
	chain        web3.Client
	keyring      *web3.Keyring
	network      string
	nativeSymbol string
	exposeKeys   bool
	aliases      []string
	log          *slog.Logger
}

// New 创建工具服务。keyring 可以为空，此时签名完全交给节点。
func New(chain web3.Client, keyring *web3.Keyring, opts ...Option) *Service {
	s := &Service{
		chain:        chain,
		keyring:      keyring,
		nativeSymbol: "ETH",
		log:          logger.Named("toolserver"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// List 返回当前服务的工具列表。
func (s *Service) List(context.Context) ([]toolrpc.ToolName, error) {
	out := make([]toolrpc.ToolName, len(toolrpc.AllTools))
	copy(out, toolrpc.AllTools)
	return out, nil
}

// Call 执行单个工具调用。业务失败以结构化 Response 返回，只有编码失败才返回 error。
func (s *Service) Call(ctx context.Context, req toolrpc.RawRequest) (*toolrpc.Response, error) {
	if s.chain == nil {
		return toolrpc.Fail(toolrpc.ErrCodeNodeError, "chain client not configured"), nil
	}

	var (
		payload any
		failure *toolrpc.Response
	)
	switch req.Tool {
	case toolrpc.ToolGetAccounts:
		payload, failure = s.getAccounts(ctx)
	case toolrpc.ToolGetSigningMaterial:
		payload, failure = s.getSigningMaterial()
	case toolrpc.ToolBalance:
		payload, failure = s.balance(ctx, req)
	case toolrpc.ToolTokenBalance:
		payload, failure = s.tokenBalance(ctx, req)
	case toolrpc.ToolTransfer:
		payload, failure = s.transfer(ctx, req)
	case toolrpc.ToolTransactionStatus:
		payload, failure = s.transactionStatus(ctx, req)
	case toolrpc.ToolIsDeployed:
		payload, failure = s.isDeployed(ctx, req)
	case toolrpc.ToolResolveName:
		payload, failure = s.resolveName(ctx, req)
	case toolrpc.ToolChainInfo:
		payload, failure = s.chainInfo(ctx)
	default:
		failure = toolrpc.Fail(toolrpc.ErrCodeUnknownTool, "unknown tool %q", req.Tool)
	}

	if failure != nil {
		s.log.Warn("工具调用失败", "tool", req.Tool, "code", failure.Error.Code, "message", failure.Error.Message)
		return failure, nil
	}
	s.log.Debug("工具调用完成", "tool", req.Tool)
	return toolrpc.OK(payload)
}

func (s *Service) getAccounts(ctx context.Context) (any, *toolrpc.Response) {
	addrs, err := s.chain.Accounts(ctx)
	if err != nil {
		return nil, nodeFailure(err)
	}
	accounts := make([]toolrpc.Account, 0, len(addrs))
	for i, addr := range addrs {
		account := toolrpc.Account{Address: addr, HasSigningKey: s.keyring.Has(addr)}
		if i < len(s.aliases) {
			account.Alias = s.aliases[i]
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// getSigningMaterial exports every key held by the provider in keyring order.
func (s *Service) getSigningMaterial() (any, *toolrpc.Response) {
	if !s.exposeKeys {
		return nil, toolrpc.Fail(toolrpc.ErrCodeForbidden, "signing material is not exposed by this provider")
	}
	addrs := s.keyring.Addresses()
	material := make([]toolrpc.SigningMaterial, 0, len(addrs))
	for _, addr := range addrs {
		if key, ok := s.keyring.Export(addr); ok {
			material = append(material, toolrpc.SigningMaterial{Address: addr, PrivateKey: key})
		}
	}
	s.log.Warn("导出签名材料", "accounts", len(material))
	return material, nil
}

func (s *Service) balance(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.AddressArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	balance, err := s.chain.Balance(ctx, args.Address)
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.BalancePayload{
		Address:  args.Address,
		Balance:  balance.String(),
		Decimals: NativeDecimals,
		Symbol:   s.nativeSymbol,
	}, nil
}

func (s *Service) tokenBalance(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.TokenBalanceArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	tb, err := s.chain.TokenBalance(ctx, args.Token, args.Address)
	if errors.Is(err, web3.ErrNotContract) {
		return nil, toolrpc.Fail(toolrpc.ErrCodeNotFound, "no token contract at %s", args.Token.Hex())
	}
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.BalancePayload{
		Address:  args.Address,
		Balance:  tb.Balance.String(),
		Decimals: int(tb.Decimals),
		Symbol:   tb.Symbol,
	}, nil
}

func (s *Service) transfer(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.TransferArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	if args.Amount == nil || args.Amount.Sign() < 0 {
		return nil, toolrpc.Fail(toolrpc.ErrCodeInvalidArgument, "amount must be a non-negative integer in base units")
	}
	if args.From == args.To {
		return nil, toolrpc.Fail(toolrpc.ErrCodeInvalidArgument, "sender and recipient are the same account")
	}
	hash, err := s.chain.Transfer(ctx, web3.TransferRequest{From: args.From, To: args.To, Value: new(big.Int).Set(args.Amount)})
	if errors.Is(err, web3.ErrNoSigner) {
		return nil, toolrpc.Fail(toolrpc.ErrCodeForbidden, "no signer available for %s", args.From.Hex())
	}
	if err != nil {
		return nil, nodeFailure(err)
	}
	s.log.Info("已提交转账", "from", args.From.Hex(), "to", args.To.Hex(), "amount", args.Amount.String(), "tx", hash.Hex())
	return toolrpc.TransferPayload{TransactionID: hash.Hex()}, nil
}

func (s *Service) transactionStatus(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.TransactionStatusArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	status, err := s.chain.TransactionStatus(ctx, args.TransactionID)
	if errors.Is(err, web3.ErrTxNotFound) {
		return nil, toolrpc.Fail(toolrpc.ErrCodeNotFound, "transaction %s not found", args.TransactionID.Hex())
	}
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.TransactionStatusPayload{State: string(status.State), BlockNumber: status.BlockNumber}, nil
}

func (s *Service) isDeployed(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.AddressArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	code, err := s.chain.Code(ctx, args.Address)
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.DeploymentPayload{Address: args.Address, Deployed: len(code) > 0}, nil
}

func (s *Service) resolveName(ctx context.Context, req toolrpc.RawRequest) (any, *toolrpc.Response) {
	var args toolrpc.ResolveNameArgs
	if err := req.DecodeArguments(&args); err != nil {
		return nil, invalid(err)
	}
	if strings.TrimSpace(args.Name) == "" {
		return nil, toolrpc.Fail(toolrpc.ErrCodeInvalidArgument, "name is required")
	}
	addr, err := s.chain.ResolveName(ctx, args.Name)
	if errors.Is(err, web3.ErrNameNotFound) {
		return nil, toolrpc.Fail(toolrpc.ErrCodeNotFound, "name %q does not resolve", args.Name)
	}
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.ResolveNamePayload{Name: args.Name, Address: addr}, nil
}

func (s *Service) chainInfo(ctx context.Context) (any, *toolrpc.Response) {
	snapshot, err := s.chain.FetchChainSnapshot(ctx)
	if err != nil {
		return nil, nodeFailure(err)
	}
	return toolrpc.ChainInfoPayload{Network: s.network, ChainID: snapshot.ChainID, BlockNumber: snapshot.BlockNumber}, nil
}

func invalid(err error) *toolrpc.Response {
	return toolrpc.Fail(toolrpc.ErrCodeInvalidArgument, "%v", err)
}

func nodeFailure(err error) *toolrpc.Response {
	return toolrpc.Fail(toolrpc.ErrCodeNodeError, "%v", err)
}
