package toolrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "ChainPilot/internal/errors"
)

const (
	// CodeToolUnavailable means the provider could not be reached or did not answer in time.
	CodeToolUnavailable xerrors.Code = "TOOL_UNAVAILABLE"
	// CodeToolRejected means the provider answered with a structured error.
	CodeToolRejected xerrors.Code = "TOOL_REJECTED"

	// MetaTool, MetaRemoteCode and MetaRemoteMessage are error metadata keys.
	MetaTool          = "tool"
	MetaRemoteCode    = "remote_code"
	MetaRemoteMessage = "remote_message"
)

func init() {
	xerrors.Register(CodeToolUnavailable, xerrors.Attributes{
		Message:    "tool provider unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		UserFacing: true,
	})
	xerrors.Register(CodeToolRejected, xerrors.Attributes{
		Message:    "tool provider rejected the request",
		Severity:   xerrors.SeverityInfo,
		UserFacing: true,
	})
}

// Unavailable builds a TOOL_UNAVAILABLE error for tool.
func Unavailable(tool ToolName, cause error) *xerrors.Error {
	return xerrors.Wrap(CodeToolUnavailable, cause, fmt.Sprintf("tool provider unreachable while calling %s", tool),
		xerrors.WithMetadata(MetaTool, string(tool)))
}

// Rejected builds a TOOL_REJECTED error carrying the provider's code and message.
func Rejected(tool ToolName, code, message string) *xerrors.Error {
	return xerrors.New(CodeToolRejected, fmt.Sprintf("%s rejected: %s (%s)", tool, message, code),
		xerrors.WithMetadata(MetaTool, string(tool)),
		xerrors.WithMetadata(MetaRemoteCode, code),
		xerrors.WithMetadata(MetaRemoteMessage, message))
}

// Client calls a remote tool provider.
type Client struct {
	endpoint string
	rpc      *gethrpc.Client
	timeout  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	httpClient *http.Client
}

// WithCallTimeout bounds each remote call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithHTTPClient overrides the HTTP client used for http(s) endpoints.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// Dial prepares a client for endpoint. HTTP endpoints are not contacted until
// the first call.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("tool provider endpoint is empty")
	}
	var o clientOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var dialOpts []gethrpc.ClientOption
	if o.httpClient != nil {
		dialOpts = append(dialOpts, gethrpc.WithHTTPClient(o.httpClient))
	}
	rpcClient, err := gethrpc.DialOptions(ctx, endpoint, dialOpts...)
	if err != nil {
		return nil, Unavailable(ToolName("dial"), err)
	}
	return &Client{endpoint: endpoint, rpc: rpcClient, timeout: o.timeout}, nil
}

// Endpoint returns the provider URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call sends req and returns the successful response. Transport failures
// become TOOL_UNAVAILABLE; provider failures become TOOL_REJECTED.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.rpc == nil {
		return nil, Unavailable(req.Tool, errors.New("client not initialised"))
	}
	if req.Arguments == nil {
		req.Arguments = Arguments{}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp Response
	if err := c.rpc.CallContext(ctx, &resp, Namespace+"_call", req); err != nil {
		return nil, classify(req.Tool, err)
	}
	if !resp.Success {
		if resp.Error == nil {
			return nil, Rejected(req.Tool, "UNKNOWN", "provider reported failure without details")
		}
		return nil, Rejected(req.Tool, resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

// Tools asks the provider which tools it serves.
func (c *Client) Tools(ctx context.Context) ([]ToolName, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var tools []ToolName
	if err := c.rpc.CallContext(ctx, &tools, Namespace+"_list"); err != nil {
		return nil, classify(ToolName("tools_list"), err)
	}
	return tools, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// classify separates transport problems from errors the provider reported
// through JSON-RPC.
func classify(tool ToolName, err error) error {
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			return Unavailable(tool, err)
		}
		return Rejected(tool, strconv.Itoa(httpErr.StatusCode), httpErr.Status)
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return Rejected(tool, strconv.Itoa(rpcErr.ErrorCode()), rpcErr.Error())
	}
	return Unavailable(tool, err)
}
