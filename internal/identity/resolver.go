package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Resolver reports the service's current public address.
type Resolver interface {
	Resolve(ctx context.Context) (netip.Addr, error)
}

// HTTPResolver asks an "echo my IP" service whose response body is a bare
// address literal.
type HTTPResolver struct {
	url        string
	httpClient *http.Client
	maxTries   uint
}

func NewHTTPResolver(url string, timeout time.Duration) *HTTPResolver {
	return NewHTTPResolverWithClient(url, &http.Client{Timeout: timeout})
}

func NewHTTPResolverWithClient(url string, httpClient *http.Client) *HTTPResolver {
	return &HTTPResolver{url: url, httpClient: httpClient, maxTries: 3}
}

func (r *HTTPResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	op := func() (netip.Addr, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return netip.Addr{}, backoff.Permanent(fmt.Errorf("resolver request: %w", err))
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("resolver request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
		if err != nil {
			return netip.Addr{}, fmt.Errorf("resolver read: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return netip.Addr{}, fmt.Errorf("resolver: status %d", resp.StatusCode)
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
		if err != nil {
			return netip.Addr{}, backoff.Permanent(fmt.Errorf("resolver: bad address %q: %w", body, err))
		}
		return addr.Unmap(), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithMaxElapsedTime(20*time.Second),
	)
}
