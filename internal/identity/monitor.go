package identity

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"polybot/internal/observability"
)

// Reconciler brings the certificate and webhook registration in line with a
// newly observed address.
type Reconciler interface {
	Reconcile(ctx context.Context, addr netip.Addr) error
}

// Monitor polls the public address and runs a reconciliation cycle whenever it
// differs from the last address that was fully reconciled. A cycle runs to
// completion before the next poll is scheduled, so cycles never overlap.
type Monitor struct {
	resolver   Resolver
	reconciler Reconciler
	interval   time.Duration
	metrics    *observability.Metrics
	log        *observability.Logger

	mu   sync.Mutex
	last netip.Addr
}

func NewMonitor(resolver Resolver, reconciler Reconciler, interval time.Duration, metrics *observability.Metrics) *Monitor {
	return &Monitor{
		resolver:   resolver,
		reconciler: reconciler,
		interval:   interval,
		metrics:    metrics,
		log:        observability.Component("identity"),
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info(ctx, "identity monitor started", "interval", m.interval.String())
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info(ctx, "identity monitor stopped")
			return nil
		case <-timer.C:
		}
		m.Tick(ctx)
		timer.Reset(m.interval)
	}
}

// Tick performs one poll. It reports whether the address changed and was
// reconciled successfully.
func (m *Monitor) Tick(ctx context.Context) bool {
	addr, err := m.resolver.Resolve(ctx)
	if err != nil {
		m.log.Warn(ctx, "public address lookup failed, skipping tick", "error", err.Error())
		return false
	}

	last := m.Last()
	if addr == last {
		m.log.Debug(ctx, "public address unchanged", "address", addr.String())
		return false
	}

	m.log.Info(ctx, "public address changed", "previous", last.String(), "address", addr.String())
	m.metrics.IPChanged()
	if err := m.reconciler.Reconcile(ctx, addr); err != nil {
		m.log.Error(ctx, "reconciliation failed, retrying next tick", "address", addr.String(), "error", err.Error())
		return false
	}

	m.mu.Lock()
	m.last = addr
	m.mu.Unlock()
	return true
}

// Last is the most recent address that was reconciled successfully.
func (m *Monitor) Last() netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
