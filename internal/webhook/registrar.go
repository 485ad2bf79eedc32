// Package webhook registers the listener's endpoint and certificate with the
// Bot API and checks what the platform currently has on record.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"

	"polybot/internal/observability"
	"polybot/internal/platform/telegram"
)

const Path = "/webhook"

var (
	ErrRegisterFailed = errors.New("webhook registration failed")
	ErrVerifyFailed   = errors.New("webhook verification failed")
)

// API is the slice of the Bot API the registrar needs.
type API interface {
	SetWebhook(ctx context.Context, url string, cert []byte, secret string) error
	GetWebhookInfo(ctx context.Context) (telegram.WebhookInfo, error)
}

type Registrar struct {
	api    API
	port   int
	secret string
	log    *observability.Logger
}

func NewRegistrar(api API, port int, secret string) *Registrar {
	return &Registrar{
		api:    api,
		port:   port,
		secret: secret,
		log:    observability.Component("webhook"),
	}
}

// URL is the external endpoint the platform delivers updates to.
func URL(addr netip.Addr, port int) string {
	return "https://" + netip.AddrPortFrom(addr.Unmap(), uint16(port)).String() + Path
}

// Register uploads the certificate at certPath and points the webhook at addr.
func (r *Registrar) Register(ctx context.Context, certPath string, addr netip.Addr) error {
	cert, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("%w: read certificate: %w", ErrRegisterFailed, err)
	}
	url := URL(addr, r.port)
	if err := r.api.SetWebhook(ctx, url, cert, r.secret); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}
	r.log.Info(ctx, "webhook registered", "url", url)
	return nil
}

// Verify reports whether the platform delivers to addr using a custom
// certificate. An error answer from the platform counts as "not configured";
// only transport failures are returned as errors.
func (r *Registrar) Verify(ctx context.Context, addr netip.Addr) (bool, error) {
	info, err := r.api.GetWebhookInfo(ctx)
	if err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			r.log.Warn(ctx, "webhook info rejected by platform", "error", err.Error())
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}
	if info.IPAddress == "" {
		r.log.Debug(ctx, "webhook has no address on record", "url", info.URL)
		return false, nil
	}
	registered, err := netip.ParseAddr(info.IPAddress)
	if err != nil {
		r.log.Warn(ctx, "webhook info has unparsable address", "ip_address", info.IPAddress)
		return false, nil
	}
	configured := registered.Unmap() == addr.Unmap() && info.HasCustomCertificate
	r.log.Debug(ctx, "webhook checked",
		"registered", registered.String(),
		"custom_certificate", info.HasCustomCertificate,
		"configured", configured,
	)
	return configured, nil
}
