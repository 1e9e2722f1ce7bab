package toolrpc

import (
	"context"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Service is implemented by tool providers. Only these two methods should be
// exported on the implementation since every exported method becomes a
// JSON-RPC method.
type Service interface {
	Call(ctx context.Context, req RawRequest) (*Response, error)
	List(ctx context.Context) ([]ToolName, error)
}

// NewServer registers svc under the tools namespace. The returned server is
// an http.Handler.
func NewServer(svc Service) (*gethrpc.Server, error) {
	srv := gethrpc.NewServer()
	if err := srv.RegisterName(Namespace, svc); err != nil {
		srv.Stop()
		return nil, fmt.Errorf("register tool service: %w", err)
	}
	return srv, nil
}
