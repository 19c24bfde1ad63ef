// Package platform is the typed client for the Agent Platform REST API:
// agents, their tool attachments, the global tool registry, and the
// federated MCP server surface.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oculair/toolcurator/pkg/config"
)

// secretHeader carries the shared secret, forwarded verbatim.
const secretHeader = "X-BARE-PASSWORD"

// RetryPolicy bounds retries for one operation kind. Transport errors and
// 5xx responses are retried with exponential backoff; 4xx is terminal.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Default policies per operation kind.
var (
	// ListRetry covers paged registry and per-server listings.
	ListRetry = RetryPolicy{MaxRetries: 3, InitialInterval: time.Second}
	// MutateRetry covers attach/detach/register. The per-request timeout
	// bounds each attempt; retries stay inside the caller's context.
	MutateRetry = RetryPolicy{MaxRetries: 3, InitialInterval: 500 * time.Millisecond}
)

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// Client talks to the Agent Platform. One pooled HTTP client is shared by
// all operations; lifecycle is bound to the process.
type Client struct {
	baseURL         string
	secret          string
	httpClient      *http.Client
	mutationTimeout time.Duration
	pageLimit       int
	logger          *slog.Logger
}

// NewClient creates a platform client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:         strings.TrimRight(cfg.PlatformURL, "/"),
		secret:          cfg.PlatformSecret,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		mutationTimeout: cfg.MutationTimeout,
		pageLimit:       defaultPageLimit,
		logger:          slog.Default(),
	}
}

const defaultPageLimit = 1000

// OverrideHTTPClientForTest replaces the pooled HTTP client. For testing only.
func (c *Client) OverrideHTTPClientForTest(httpClient *http.Client) {
	c.httpClient = httpClient
}

// SetPageLimitForTest shrinks the paging window. For testing only.
func (c *Client) SetPageLimitForTest(limit int) { c.pageLimit = limit }

// Agent is the slice of agent state the engine needs.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, "password "+c.secret)
	}
}

// do issues one request with the given retry policy and decodes a 2xx body
// into out (when out is non-nil). Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, policy RetryPolicy, op, method, path string, query url.Values, out any) error {
	operation := func() error {
		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: create request: %w", op, err))
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport failure: retryable.
			return &APIError{Kind: KindTransport, Op: op, Msg: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &APIError{
				Kind:   kindForStatus(resp.StatusCode),
				Op:     op,
				Status: resp.StatusCode,
				Msg:    strings.TrimSpace(string(body)),
			}
			if resp.StatusCode >= 500 {
				return apiErr // retryable
			}
			return backoff.Permanent(apiErr)
		}

		switch dst := out.(type) {
		case nil:
			return nil
		case *[]byte:
			// Raw capture for callers with tolerant decoding (paged listings).
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return &APIError{Kind: KindTransport, Op: op, Msg: err.Error()}
			}
			*dst = data
			return nil
		default:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("%s: decode response: %w", op, err))
			}
			return nil
		}
	}

	// backoff.Retry unwraps Permanent errors and otherwise returns the last
	// attempt's error once the budget is spent.
	return backoff.Retry(operation, policy.backoff(ctx))
}

// GetAgent fetches agent metadata.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, ListRetry, "get agent", http.MethodGet,
		"/agents/"+url.PathEscape(agentID), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}
