package identity

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResolver returns one result per call; the last result repeats.
type scriptedResolver struct {
	mu      sync.Mutex
	results []string
	calls   int
}

func (s *scriptedResolver) Resolve(context.Context) (netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	if s.results[i] == "" {
		return netip.Addr{}, errors.New("resolver down")
	}
	return netip.MustParseAddr(s.results[i]), nil
}

type recordingReconciler struct {
	mu    sync.Mutex
	seen  []netip.Addr
	errs  []error
	calls int
}

func (r *recordingReconciler) Reconcile(_ context.Context, addr netip.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, addr)
	var err error
	if r.calls < len(r.errs) {
		err = r.errs[r.calls]
	}
	r.calls++
	return err
}

func (r *recordingReconciler) addrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	for i, a := range r.seen {
		out[i] = a.String()
	}
	return out
}

func TestTick_ReconcilesOncePerDistinctChange(t *testing.T) {
	res := &scriptedResolver{results: []string{
		"192.0.2.1", "192.0.2.1", "192.0.2.1",
		"192.0.2.2", "192.0.2.2",
		"192.0.2.1",
	}}
	rec := &recordingReconciler{}
	m := NewMonitor(res, rec, time.Minute, nil)

	for i := 0; i < 6; i++ {
		m.Tick(context.Background())
	}

	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "192.0.2.1"}, rec.addrs())
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), m.Last())
}

func TestTick_ResolveFailureKeepsLastAddress(t *testing.T) {
	res := &scriptedResolver{results: []string{"192.0.2.1", "", "", "192.0.2.1"}}
	rec := &recordingReconciler{}
	m := NewMonitor(res, rec, time.Minute, nil)

	for i := 0; i < 4; i++ {
		m.Tick(context.Background())
	}

	assert.Equal(t, []string{"192.0.2.1"}, rec.addrs())
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), m.Last())
}

func TestTick_FailedReconcileRetriesNextTick(t *testing.T) {
	res := &scriptedResolver{results: []string{"192.0.2.9"}}
	rec := &recordingReconciler{errs: []error{errors.New("generate failed")}}
	m := NewMonitor(res, rec, time.Minute, nil)

	assert.False(t, m.Tick(context.Background()))
	assert.False(t, m.Last().IsValid())

	assert.True(t, m.Tick(context.Background()))
	assert.Equal(t, []string{"192.0.2.9", "192.0.2.9"}, rec.addrs())

	assert.False(t, m.Tick(context.Background()))
	assert.Len(t, rec.addrs(), 2)
}

func TestRun_PollsImmediatelyAndStops(t *testing.T) {
	res := &scriptedResolver{results: []string{"198.51.100.3"}}
	rec := &recordingReconciler{}
	m := NewMonitor(res, rec, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		res.mu.Lock()
		defer res.mu.Unlock()
		return res.calls >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, []string{"198.51.100.3"}, rec.addrs())
}
