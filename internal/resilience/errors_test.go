package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientExplicit(t *testing.T) {
	err := NewTransientError(errors.New("too many requests"), 429)
	assert.True(t, IsTransient(err))
}

func TestIsTransientWrapped(t *testing.T) {
	inner := NewTransientError(errors.New("service unavailable"), 503)
	assert.True(t, IsTransient(fmt.Errorf("census: get variables.json: %w", inner)))
}

func TestIsTransientNil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransientPermanentError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("error: unknown variable 'B99999_001E'")))
}

func TestIsTransientTornConnections(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
}

func TestIsTransientNetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	assert.True(t, IsTransient(err))
}

func TestIsTransientMessageFragments(t *testing.T) {
	for _, msg := range []string{
		"read: connection reset by peer",
		"write: broken pipe",
		"net/http: TLS handshake timeout",
		"read tcp 10.0.0.1:443: i/o timeout",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 204, 400, 401, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientErrorChain(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 500, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}
