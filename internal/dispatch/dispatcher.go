// Package dispatch 把已分类的链上操作意图翻译为工具请求并同步调用工具提供方。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/internal/units"
	"ChainPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// CodeUnsupportedOperation 表示分发表中没有该操作，属于程序缺陷。
const CodeUnsupportedOperation xerrors.Code = "UNSUPPORTED_OPERATION"

func init() {
	xerrors.Register(CodeUnsupportedOperation, xerrors.Attributes{
		Message:  "unsupported operation",
		Severity: xerrors.SeverityCritical,
	})
}

// AddressResolver 把账户引用解析为地址。
type AddressResolver interface {
	Resolve(ctx context.Context, reference string) (common.Address, error)
}

// Plan 是构造完成、尚未发送的工具请求。
type Plan struct {
	Operation intent.Operation
	Request   toolrpc.Request
	Asset     Asset
}

// Result 是一次成功的分发。
type Result struct {
	Plan
	Response *toolrpc.Response
}

type builder func(ctx context.Context, d *Dispatcher, in intent.Intent) (Plan, error)

// table 是操作到工具的静态映射。
var table = map[intent.Operation]builder{
	intent.OperationTransfer:        buildTransfer,
	intent.OperationBalanceQuery:    buildBalance,
	intent.OperationDeploymentCheck: buildDeployment,
}

// Dispatcher 负责构造请求并通过 Gateway 发送。
type Dispatcher struct {
	gateway  *Gateway
	resolver AddressResolver
	assets   AssetTable
	log      *slog.Logger
}

// New 创建分发器。
func New(gateway *Gateway, resolver AddressResolver, assets AssetTable) *Dispatcher {
	return &Dispatcher{
		gateway:  gateway,
		resolver: resolver,
		assets:   assets,
		log:      logger.Named("dispatch"),
	}
}

// Build 解析地址、换算金额，返回待发送的请求。
func (d *Dispatcher) Build(ctx context.Context, in intent.Intent) (Plan, error) {
	build, ok := table[in.Operation]
	if !ok || in.Category != intent.CategoryBlockchainOperation {
		err := xerrors.New(CodeUnsupportedOperation, fmt.Sprintf("no tool mapped for %s", in),
			xerrors.WithMetadata("operation", string(in.Operation)))
		d.log.Error("分发表缺少操作", "intent", in.String(), "rule", in.Rule)
		return Plan{}, err
	}
	return build(ctx, d, in)
}

// Dispatch 构造请求并同步调用工具提供方。
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent) (*Result, error) {
	plan, err := d.Build(ctx, in)
	if err != nil {
		return nil, err
	}
	resp, err := d.gateway.Call(ctx, plan.Request)
	if err != nil {
		return nil, err
	}
	return &Result{Plan: plan, Response: resp}, nil
}

// Gateway 返回底层网关。
func (d *Dispatcher) Gateway() *Gateway {
	return d.gateway
}

func buildTransfer(ctx context.Context, d *Dispatcher, in intent.Intent) (Plan, error) {
	asset, amount, err := d.amount(in.Entity(intent.SlotAmount), in.Entity(intent.SlotAsset))
	if err != nil {
		return Plan{}, err
	}
	if !asset.Native() {
		return Plan{}, intent.Incomplete(fmt.Sprintf("only %s transfers are supported, %s token transfers are not", d.assets.nativeAsset().Symbol, asset.Symbol), intent.SlotAsset)
	}
	from, err := d.resolver.Resolve(ctx, in.Entity(intent.SlotFrom))
	if err != nil {
		return Plan{}, err
	}
	to, err := d.resolver.Resolve(ctx, in.Entity(intent.SlotTo))
	if err != nil {
		return Plan{}, err
	}
	if from == to {
		return Plan{}, intent.Incomplete("sender and recipient are the same account; who should receive it?", intent.SlotTo)
	}
	return Plan{
		Operation: intent.OperationTransfer,
		Asset:     asset,
		Request: toolrpc.Request{
			Tool: toolrpc.ToolTransfer,
			Arguments: toolrpc.Arguments{
				toolrpc.ArgFrom:   from,
				toolrpc.ArgTo:     to,
				toolrpc.ArgAmount: amount,
			},
		},
	}, nil
}

func buildBalance(ctx context.Context, d *Dispatcher, in intent.Intent) (Plan, error) {
	asset, err := d.asset(in.Entity(intent.SlotAsset))
	if err != nil {
		return Plan{}, err
	}
	addr, err := d.resolver.Resolve(ctx, in.Entity(intent.SlotAddress))
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Operation: intent.OperationBalanceQuery, Asset: asset}
	if asset.Native() {
		plan.Request = toolrpc.Request{
			Tool:      toolrpc.ToolBalance,
			Arguments: toolrpc.Arguments{toolrpc.ArgAddress: addr},
		}
		return plan, nil
	}
	plan.Request = toolrpc.Request{
		Tool:      toolrpc.ToolTokenBalance,
		Arguments: toolrpc.Arguments{toolrpc.ArgToken: asset.Contract, toolrpc.ArgAddress: addr},
	}
	return plan, nil
}

func buildDeployment(ctx context.Context, d *Dispatcher, in intent.Intent) (Plan, error) {
	addr, err := d.resolver.Resolve(ctx, in.Entity(intent.SlotAddress))
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Operation: intent.OperationDeploymentCheck,
		Request: toolrpc.Request{
			Tool:      toolrpc.ToolIsDeployed,
			Arguments: toolrpc.Arguments{toolrpc.ArgAddress: addr},
		},
	}, nil
}

func (d *Dispatcher) asset(symbol string) (Asset, error) {
	if a, ok := d.assets.Lookup(symbol); ok {
		return a, nil
	}
	if _, ok := units.LookupNative(symbol); ok {
		return d.assets.nativeAsset(), nil
	}
	return Asset{}, intent.Incomplete(fmt.Sprintf("I don't know the asset %q; known assets: %v", symbol, d.assets.Symbols()), intent.SlotAsset)
}

// amount 换算为最小单位。gwei/wei 等原生单位按原生资产精度换算。
func (d *Dispatcher) amount(raw, symbol string) (Asset, *big.Int, error) {
	if a, ok := d.assets.Lookup(symbol); ok {
		v, err := units.ToBaseUnits(raw, a.Decimals)
		return a, v, err
	}
	if unit, ok := units.LookupNative(symbol); ok {
		native := d.assets.nativeAsset()
		v, err := units.Convert(raw, unit, native.Decimals)
		return native, v, err
	}
	return Asset{}, nil, intent.Incomplete(fmt.Sprintf("I don't know the asset %q; known assets: %v", symbol, d.assets.Symbols()), intent.SlotAsset)
}
