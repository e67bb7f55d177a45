package census

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singerep/censaurus/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestGet(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[["NAME","state"],["Alabama","01"]]`)
	}))
	defer srv.Close()

	c := NewClient("2021/acs/acs5", WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	resp, err := c.Get(context.Background(), "", url.Values{"get": {"NAME"}, "for": {"state:*"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.NoContent())
	assert.Contains(t, string(resp.Body), "Alabama")
	assert.Equal(t, "/2021/acs/acs5", gotPath)
	assert.Contains(t, gotQuery, "get=NAME")
}

func TestGetAttachesAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithAPIKey("secret"), WithRetry(fastRetry(1)))
	_, err := c.Get(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
}

func TestGetNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	resp, err := c.Get(context.Background(), "", nil)
	require.NoError(t, err)
	assert.True(t, resp.NoContent())
	assert.Empty(t, resp.Body)
}

func TestGetRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[["NAME"]]`)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(fastRetry(5)))
	resp, err := c.Get(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "error: unknown variable 'B99999_001E'")
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(fastRetry(5)))
	_, err := c.Get(context.Background(), "", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "B99999_001E")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetManyPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[["echo"],["%s"]]`, r.URL.Query().Get("n"))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(fastRetry(1)), WithConcurrency(4))

	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = Request{Params: url.Values{"n": {fmt.Sprint(i)}}}
	}

	resps, err := c.GetMany(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resps, 10)
	for i, resp := range resps {
		assert.Contains(t, string(resp.Body), fmt.Sprintf(`["%d"]`, i))
	}
}

func TestGetManyStopsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("n") == "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithRetry(fastRetry(1)))
	_, err := c.GetMany(context.Background(), []Request{
		{Params: url.Values{"n": {"0"}}},
		{Params: url.Values{"n": {"1"}}},
	})
	require.Error(t, err)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://api.census.gov/data", joinURL("https://api.census.gov/data", ""))
	assert.Equal(t, "https://api.census.gov/data/2021/acs/acs5", joinURL("https://api.census.gov/data", "2021/acs/acs5"))
	assert.Equal(t, "https://api.census.gov/data/2021", joinURL("https://api.census.gov/data/", "/2021"))
}
