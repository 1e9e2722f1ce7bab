package dispatch

import (
	"context"
	"log/slog"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/toolrpc"
	"ChainPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Caller 是一次同步的远端工具调用，通常由 toolrpc.Client 实现。
type Caller interface {
	Call(ctx context.Context, req toolrpc.Request) (*toolrpc.Response, error)
}

// GatewayOption 定义 Gateway 的可选配置。
type GatewayOption func(*Gateway)

// WithMetrics 设置指标记录器。
func WithMetrics(r *metrics.Recorder) GatewayOption {
	return func(g *Gateway) {
		g.metrics = r
	}
}

// Gateway 包装远端调用：统一计时、记录日志，并提供只读工具的便捷方法。
// 它不做任何重试。
type Gateway struct {
	caller  Caller
	metrics *metrics.Recorder
	log     *slog.Logger
}

// NewGateway 创建网关。
func NewGateway(caller Caller, opts ...GatewayOption) *Gateway {
	g := &Gateway{caller: caller, log: logger.Named("dispatch")}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Call 执行一次工具调用。会修改链上状态的工具在传输失败时标记为不可重试，
// 因为无法确定请求是否已被提交。
func (g *Gateway) Call(ctx context.Context, req toolrpc.Request) (*toolrpc.Response, error) {
	started := time.Now()
	resp, err := g.caller.Call(ctx, req)
	elapsed := time.Since(started)

	status := "ok"
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUnknown:
		if err != nil {
			status = "error"
		}
	case toolrpc.CodeToolUnavailable:
		status = "unavailable"
	case toolrpc.CodeToolRejected:
		status = "rejected"
	default:
		status = "error"
	}
	g.metrics.ObserveToolCall(string(req.Tool), status, elapsed)

	if err != nil {
		g.log.Warn("工具调用失败", "tool", req.Tool, "status", status, "elapsed", elapsed, "error", err)
		if req.Tool.Mutating() && xerrors.CodeOf(err) == toolrpc.CodeToolUnavailable {
			err = xerrors.Wrap(toolrpc.CodeToolUnavailable, err, "transfer outcome unknown: tool provider unreachable",
				xerrors.WithRetryable(false),
				xerrors.WithMetadata(toolrpc.MetaTool, string(req.Tool)))
		}
		return nil, err
	}
	g.log.Debug("工具调用完成", "tool", req.Tool, "elapsed", elapsed)
	return resp, nil
}

// ResolveName 通过 resolve_name 工具解析域名。
func (g *Gateway) ResolveName(ctx context.Context, name string) (common.Address, error) {
	resp, err := g.Call(ctx, toolrpc.Request{
		Tool:      toolrpc.ToolResolveName,
		Arguments: toolrpc.Arguments{toolrpc.ArgName: name},
	})
	if err != nil {
		return common.Address{}, err
	}
	var payload toolrpc.ResolveNamePayload
	if err := resp.Decode(&payload); err != nil {
		return common.Address{}, toolrpc.Rejected(toolrpc.ToolResolveName, "MALFORMED_PAYLOAD", err.Error())
	}
	return payload.Address, nil
}

// TransactionStatus 查询交易状态。
func (g *Gateway) TransactionStatus(ctx context.Context, txID string) (toolrpc.TransactionStatusPayload, error) {
	resp, err := g.Call(ctx, toolrpc.Request{
		Tool:      toolrpc.ToolTransactionStatus,
		Arguments: toolrpc.Arguments{toolrpc.ArgTxID: txID},
	})
	if err != nil {
		return toolrpc.TransactionStatusPayload{}, err
	}
	var payload toolrpc.TransactionStatusPayload
	if err := resp.Decode(&payload); err != nil {
		return toolrpc.TransactionStatusPayload{}, toolrpc.Rejected(toolrpc.ToolTransactionStatus, "MALFORMED_PAYLOAD", err.Error())
	}
	return payload, nil
}

// ChainInfo 返回网络与区块高度。
func (g *Gateway) ChainInfo(ctx context.Context) (toolrpc.ChainInfoPayload, error) {
	resp, err := g.Call(ctx, toolrpc.Request{Tool: toolrpc.ToolChainInfo})
	if err != nil {
		return toolrpc.ChainInfoPayload{}, err
	}
	var payload toolrpc.ChainInfoPayload
	if err := resp.Decode(&payload); err != nil {
		return toolrpc.ChainInfoPayload{}, toolrpc.Rejected(toolrpc.ToolChainInfo, "MALFORMED_PAYLOAD", err.Error())
	}
	return payload, nil
}
