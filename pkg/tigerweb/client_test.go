package tigerweb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singerep/censaurus/internal/resilience"
)

func retryTwice() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, layersDoc)
	}))
	defer srv.Close()

	c := NewClient("tigerWMS_Test", WithBaseURL(srv.URL), WithRetry(retryTwice()))
	body, err := c.Get(context.Background(), "layers", nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Counties")
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetDoesNotRetryBadRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("tigerWMS_Test", WithBaseURL(srv.URL), WithRetry(retryTwice()))
	_, err := c.Get(context.Background(), "layers", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}
