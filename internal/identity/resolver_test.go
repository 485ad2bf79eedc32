package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPResolver_ParsesBareAddress(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7\n"))
	}))
	defer ts.Close()

	addr, err := NewHTTPResolverWithClient(ts.URL, ts.Client()).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.7"), addr)
}

func TestHTTPResolver_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("2001:db8::5"))
	}))
	defer ts.Close()

	addr, err := NewHTTPResolverWithClient(ts.URL, ts.Client()).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::5"), addr)
	assert.EqualValues(t, 2, calls.Load())
}

func TestHTTPResolver_GarbageIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer ts.Close()

	_, err := NewHTTPResolverWithClient(ts.URL, ts.Client()).Resolve(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}
