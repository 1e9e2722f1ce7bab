// Package chainpilot is a Go client for the ChainPilot service-mode REST API.
package chainpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Submissions with Wait set may block for the whole command.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Submission is the payload used to enqueue a command.
type Submission struct {
	// ID makes the submission idempotent; the server generates one when empty.
	ID    string `json:"id,omitempty"`
	Input string `json:"input"`
	// Wait asks the server to hold the response until the command settles.
	Wait bool `json:"-"`
}

// Outcome is the terminal summary of an executed command.
type Outcome struct {
	Category    string `json:"category,omitempty"`
	Operation   string `json:"operation,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Summary     string `json:"summary"`
	TxID        string `json:"tx_id,omitempty"`
	TxState     string `json:"tx_state,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// Command mirrors a queued command on the server.
type Command struct {
	ID         string   `json:"id"`
	Input      string   `json:"input"`
	Status     string   `json:"status"`
	Attempts   int      `json:"attempts"`
	MaxRetries int      `json:"max_retries"`
	LastError  string   `json:"last_error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Result     *Outcome `json:"result,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

// Done reports whether the command reached a terminal status.
func (c Command) Done() bool {
	return c.Status == "succeeded" || c.Status == "failed"
}

// Stats aggregates command counts by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Submitted int `json:"submitted"`
}

// HistoryEntry is one journal record.
type HistoryEntry struct {
	ID         string `json:"id"`
	Input      string `json:"input"`
	Category   string `json:"category"`
	Operation  string `json:"operation,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Summary    string `json:"summary"`
	TxID       string `json:"tx_id,omitempty"`
	TxState    string `json:"tx_state,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// ListParams filters the command listing.
type ListParams struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string
	// HasTx filters on whether a transaction was submitted; nil disables the filter.
	HasTx *bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the ChainPilot API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets a bearer token sent with every request, for deployments
// behind an authenticating proxy.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Submit enqueues a command.
func (c *Client) Submit(ctx context.Context, submission Submission) (Command, error) {
	query := url.Values{}
	if submission.Wait {
		query.Set("wait", "true")
	}
	var cmd Command
	if err := c.do(ctx, http.MethodPost, "/api/v1/commands", query, submission, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Get fetches a command by identifier.
func (c *Client) Get(ctx context.Context, id string) (Command, error) {
	var cmd Command
	if err := c.do(ctx, http.MethodGet, "/api/v1/commands/"+url.PathEscape(id), nil, nil, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// List returns recent commands.
func (c *Client) List(ctx context.Context, params ListParams) ([]Command, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}
	if len(params.Statuses) > 0 {
		query.Set("status", strings.Join(params.Statuses, ","))
	}
	if params.Query != "" {
		query.Set("q", params.Query)
	}
	if params.HasTx != nil {
		query.Set("has_tx", strconv.FormatBool(*params.HasTx))
	}
	var cmds []Command
	if err := c.do(ctx, http.MethodGet, "/api/v1/commands", query, nil, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}

// Stats returns aggregate counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/commands/stats", nil, nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// History returns the newest journal entries.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var entries []HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/history", query, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Wait polls a command until it settles or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (Command, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cmd, err := c.Get(ctx, id)
		if err != nil {
			return Command{}, err
		}
		if cmd.Done() {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return cmd, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Healthy returns nil when the service reports ok.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
