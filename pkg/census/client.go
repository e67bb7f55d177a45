// Package census wraps the U.S. Census Bureau Data API: dataset metadata,
// variable and geography indexing, and tabular queries.
package census

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/singerep/censaurus/internal/resilience"
)

const (
	// DefaultBaseURL is the root of the Census Data API.
	DefaultBaseURL = "https://api.census.gov/data"

	// defaultConcurrency bounds parallel chunked fetches.
	defaultConcurrency = 50
)

// Response holds the status and body of a single Data API call. A 204 comes
// back with an empty body and is not an error; the Bureau uses it to signal
// "no data for this geography".
type Response struct {
	StatusCode int
	Body       []byte
}

// NoContent reports whether the API returned 204.
func (r *Response) NoContent() bool {
	return r.StatusCode == http.StatusNoContent
}

// Request is a single URL path + query parameter pair for GetMany.
type Request struct {
	Path   string
	Params url.Values
}

// Client is an HTTP client for one dataset's slice of the Data API
// (e.g. /2021/acs/acs5). All requests are rate limited and retried on
// transient failures.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	concurrency int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey attaches a Census API key to every request. Keys are free:
// https://api.census.gov/data/key_signup.html.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the API root. Mostly useful in tests.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithConcurrency bounds the number of parallel requests in GetMany.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a Client scoped to the given URL extension, e.g.
// "2021/acs/acs5".
func NewClient(urlExtension string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     DefaultBaseURL,
		limiter:     rate.NewLimiter(50, 50),
		retry:       resilience.DefaultRetryConfig(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = joinURL(c.baseURL, urlExtension)
	return c
}

// Get performs a single API call. Transient failures (429, 5xx, network
// errors) are retried with backoff; anything else is surfaced as an
// *APIError.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		op := path
		if op == "" {
			op = "data query"
		}
		cfg.OnRetry = resilience.RetryLogger("census", op)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return c.getOnce(ctx, path, params)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "census: rate limit")
	}

	merged := url.Values{}
	for k, vs := range params {
		merged[k] = vs
	}
	if c.apiKey != "" {
		merged.Set("key", c.apiKey)
	}

	reqURL := joinURL(c.baseURL, path)
	if len(merged) > 0 {
		reqURL += "?" + merged.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "census: read body")
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return &Response{StatusCode: resp.StatusCode, Body: body}, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
	default:
		zap.L().Debug("census API error",
			zap.Int("status", resp.StatusCode),
			zap.String("url", reqURL))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
}

// GetMany performs the given requests with bounded parallelism, preserving
// order. The first error cancels the remaining requests.
func (c *Client) GetMany(ctx context.Context, reqs []Request) ([]*Response, error) {
	responses := make([]*Response, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := c.Get(gctx, req.Path, req.Params)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return base + path
}
