// Package reconcile ties a detected address change to a new certificate, a
// fresh webhook registration and a listener restart.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go.opentelemetry.io/otel/attribute"

	"polybot/internal/certs"
	"polybot/internal/observability"
)

// ErrMismatch means the platform still disagrees with us after a successful
// registration.
var ErrMismatch = errors.New("webhook registration does not match current address")

type CertGenerator interface {
	Generate(addr netip.Addr, keyPath, certPath string) (certs.Material, error)
}

type Registrar interface {
	Register(ctx context.Context, certPath string, addr netip.Addr) error
	Verify(ctx context.Context, addr netip.Addr) (bool, error)
}

type Signaler interface {
	Signal()
}

type Reconciler struct {
	certs    CertGenerator
	webhook  Registrar
	restart  Signaler
	keyPath  string
	certPath string
	metrics  *observability.Metrics
	log      *observability.Logger
}

func New(gen CertGenerator, reg Registrar, restart Signaler, keyPath, certPath string, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		certs:    gen,
		webhook:  reg,
		restart:  restart,
		keyPath:  keyPath,
		certPath: certPath,
		metrics:  metrics,
		log:      observability.Component("reconcile"),
	}
}

// Reconcile runs one cycle for addr. When the platform already delivers to addr
// with a custom certificate and the local pair is bound to addr, nothing is
// regenerated. Otherwise a new pair is
// written, uploaded, checked, and the listener restart is signalled. The
// signal is raised only after the files are in place and the upload succeeded.
func (r *Reconciler) Reconcile(ctx context.Context, addr netip.Addr) error {
	ctx, span := observability.StartSpan(ctx, "reconcile.cycle", attribute.String("address", addr.String()))
	defer span.End()

	ok, err := r.webhook.Verify(ctx, addr)
	if err != nil {
		r.finish(ctx, "verify_failed")
		observability.SpanError(span, err)
		return fmt.Errorf("verify before regenerate: %w", err)
	}
	if ok {
		if r.localBoundTo(addr) {
			r.log.Info(ctx, "webhook already configured for address, skipping", "address", addr.String())
			r.finish(ctx, "already_configured")
			return nil
		}
		r.log.Warn(ctx, "webhook configured but local pair missing, unusable or stale", "address", addr.String(), "cert_path", r.certPath)
	}

	r.log.Info(ctx, "webhook not configured for address, regenerating certificate", "address", addr.String())
	if _, err := r.certs.Generate(addr, r.keyPath, r.certPath); err != nil {
		r.finish(ctx, "generate_failed")
		observability.SpanError(span, err)
		return fmt.Errorf("generate certificate: %w", err)
	}
	if err := r.webhook.Register(ctx, r.certPath, addr); err != nil {
		r.finish(ctx, "register_failed")
		observability.SpanError(span, err)
		return fmt.Errorf("register webhook: %w", err)
	}

	ok, verifyErr := r.webhook.Verify(ctx, addr)

	// The new pair is on disk and pinned by the platform; the listener must
	// stop presenting the old one whatever the check below says.
	r.restart.Signal()

	if verifyErr != nil {
		r.finish(ctx, "mismatch")
		observability.SpanError(span, verifyErr)
		return fmt.Errorf("%w: %w", ErrMismatch, verifyErr)
	}
	if !ok {
		r.finish(ctx, "mismatch")
		observability.SpanError(span, ErrMismatch)
		return ErrMismatch
	}
	r.finish(ctx, "registered")
	return nil
}

// localBoundTo reports whether the pair the listener would load is usable and
// carries addr.
func (r *Reconciler) localBoundTo(addr netip.Addr) bool {
	bound, err := certs.ServedAddress(r.keyPath, r.certPath)
	return err == nil && bound == addr
}

func (r *Reconciler) finish(ctx context.Context, outcome string) {
	r.metrics.ReconcileOutcome(outcome)
	r.log.Debug(ctx, "reconcile cycle finished", "outcome", outcome)
}
