// Package tigerweb wraps the Census Bureau's TIGERWeb ArcGIS REST API:
// map service layers, feature queries, and area resolution by name or
// GEOID.
package tigerweb

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/singerep/censaurus/internal/resilience"
)

const (
	// DefaultBaseURL is the root of the TIGERWeb map services.
	DefaultBaseURL = "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb"

	// DefaultMapService is the current-vintage map service. Datasets pick
	// vintage-specific services such as tigerWMS_ACS2021.
	DefaultMapService = "tigerWMS_Current"

	defaultConcurrency = 20
)

// Client is an HTTP client for one TIGERWeb map service.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	concurrency int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the service root. Mostly useful in tests.
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

// NewClient creates a Client scoped to the given map service, e.g.
// "tigerWMS_ACS2021".
func NewClient(mapService string, opts ...ClientOption) *Client {
	if mapService == "" {
		mapService = DefaultMapService
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     DefaultBaseURL,
		limiter:     rate.NewLimiter(20, 20),
		retry:       resilience.DefaultRetryConfig(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = c.baseURL + "/" + mapService + "/MapServer"
	return c
}

// Get performs a single map-service call. The format parameter f defaults
// to json when the caller has not set it.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		op := path
		if op == "" {
			op = "map service"
		}
		cfg.OnRetry = resilience.RetryLogger("tigerweb", op)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.getOnce(ctx, path, params)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "tigerweb: rate limit")
	}

	merged := url.Values{}
	for k, vs := range params {
		merged[k] = vs
	}
	if merged.Get("f") == "" {
		merged.Set("f", "json")
	}

	reqURL := c.baseURL
	if path != "" {
		reqURL += "/" + path
	}
	reqURL += "?" + merged.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: read body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		apiErr := eris.Errorf("tigerweb: API returned status %d: %s", resp.StatusCode, string(body))
		return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
	default:
		return nil, eris.Errorf("tigerweb: API returned status %d: %s", resp.StatusCode, string(body))
	}
}
