// Package restart carries "listener must be rebuilt" notifications from the
// reconciliation loop to the serving loop.
package restart

import "context"

// Coordinator is a single-slot notifier. Signals raised before the consumer
// waits collapse into one pending restart.
type Coordinator struct {
	ch chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{ch: make(chan struct{}, 1)}
}

// Signal marks a restart as pending. It never blocks.
func (c *Coordinator) Signal() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a restart is pending, then clears it.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the slot for callers that select on it alongside other events.
// Receiving from it consumes the pending restart.
func (c *Coordinator) C() <-chan struct{} {
	return c.ch
}

// Pending reports whether a restart is waiting to be consumed.
func (c *Coordinator) Pending() bool {
	return len(c.ch) > 0
}
