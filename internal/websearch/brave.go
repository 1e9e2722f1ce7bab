// Package websearch queries the Brave Search API for the REPL "web" command.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
)

// CodeWebSearchUnavailable marks a failed or unconfigured web search.
const CodeWebSearchUnavailable xerrors.Code = "WEB_SEARCH_UNAVAILABLE"

const (
	defaultBaseURL    = "https://api.search.brave.com/res/v1"
	defaultMaxResults = 5
	defaultTimeout    = 10 * time.Second
)

func init() {
	xerrors.Register(CodeWebSearchUnavailable, xerrors.Attributes{
		Message:    "web search unavailable",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		UserFacing: true,
	})
}

// Result is one web hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Config holds the Brave client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
}

// Client calls the Brave web search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(CodeWebSearchUnavailable, "no Brave Search API key configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type braveResponse struct {
	Web struct {
		Results []Result `json:"results"`
	} `json:"web"`
}

// SearchWeb returns up to the configured number of results for query.
func (c *Client) SearchWeb(ctx context.Context, query string) ([]Result, error) {
	if c == nil {
		return nil, xerrors.New(CodeWebSearchUnavailable, "web search is not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "search query is empty")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(c.maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeWebSearchUnavailable, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(CodeWebSearchUnavailable, err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, xerrors.Wrap(CodeWebSearchUnavailable,
			fmt.Errorf("brave returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "",
			xerrors.WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError))
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(CodeWebSearchUnavailable, err, "decode response")
	}
	results := decoded.Web.Results
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}
	for i := range results {
		results[i].Description = stripTags(results[i].Description)
	}
	return results, nil
}

// stripTags removes the <strong> highlighting Brave puts in descriptions.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ErrDisabled is returned by Disabled.SearchWeb.
var ErrDisabled = errors.New("web search disabled")

// Disabled stands in when web_search.enabled is false.
type Disabled struct{}

// SearchWeb always fails with WEB_SEARCH_UNAVAILABLE.
func (Disabled) SearchWeb(context.Context, string) ([]Result, error) {
	return nil, xerrors.Wrap(CodeWebSearchUnavailable, ErrDisabled, "")
}
