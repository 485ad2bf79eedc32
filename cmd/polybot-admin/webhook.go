package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/spf13/cobra"

	"polybot/internal/certs"
	"polybot/internal/config"
	"polybot/internal/identity"
	"polybot/internal/platform/telegram"
	"polybot/internal/reconcile"
	"polybot/internal/webhook"
)

var (
	webhookIP   string
	reconcileIP string

	webhookCmd = &cobra.Command{
		Use:   "webhook",
		Short: "inspect or set the bot webhook",
	}

	webhookInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "print the webhook the platform has on record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			info, err := newTelegram(cfg).GetWebhookInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "url:                %s\n", info.URL)
			fmt.Fprintf(cmd.OutOrStdout(), "ip_address:         %s\n", info.IPAddress)
			fmt.Fprintf(cmd.OutOrStdout(), "custom_certificate: %t\n", info.HasCustomCertificate)
			fmt.Fprintf(cmd.OutOrStdout(), "pending_updates:    %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "last_error:         %s\n", info.LastErrorMessage)
			}
			return nil
		},
	}

	webhookSetCmd = &cobra.Command{
		Use:   "set",
		Short: "upload the on-disk certificate and point the webhook at an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(webhookIP)
			if err != nil {
				return fmt.Errorf("--ip: %w", err)
			}
			reg := webhook.NewRegistrar(newTelegram(cfg), cfg.Port, cfg.TelegramWebhookSecret)
			if err := reg.Register(cmd.Context(), cfg.CertPath, addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", webhook.URL(addr, cfg.Port))
			return nil
		},
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "run one reconciliation cycle (verify, regenerate, register)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr, err := resolveAddress(cmd.Context(), cfg, reconcileIP)
			if err != nil {
				return err
			}
			notice := &restartNotice{}
			reg := webhook.NewRegistrar(newTelegram(cfg), cfg.Port, cfg.TelegramWebhookSecret)
			rec := reconcile.New(certs.NewManager(), reg, notice, cfg.KeyPath, cfg.CertPath, nil)
			if err := rec.Reconcile(cmd.Context(), addr); err != nil {
				return err
			}
			if notice.raised {
				fmt.Fprintln(cmd.OutOrStdout(), "certificate replaced; restart the running service to serve it")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "webhook already configured for %s\n", addr)
			}
			return nil
		},
	}
)

// restartNotice records the restart request; the listener lives in another process.
type restartNotice struct {
	raised bool
}

func (n *restartNotice) Signal() { n.raised = true }

func init() {
	webhookSetCmd.Flags().StringVar(&webhookIP, "ip", "", "public address to register")
	_ = webhookSetCmd.MarkFlagRequired("ip")
	reconcileCmd.Flags().StringVar(&reconcileIP, "ip", "", "address to reconcile (default: ask the resolver)")
	webhookCmd.AddCommand(webhookInfoCmd, webhookSetCmd)
}

func newTelegram(cfg *config.Config) *telegram.Client {
	return telegram.NewClientWithOptions(cfg.TelegramBotToken, cfg.TelegramAPIBase, &http.Client{Timeout: cfg.HTTPTimeout})
}

func resolveAddress(ctx context.Context, cfg *config.Config, raw string) (netip.Addr, error) {
	if raw != "" {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("--ip: %w", err)
		}
		return addr, nil
	}
	return identity.NewHTTPResolver(cfg.IPResolverURL, cfg.HTTPTimeout).Resolve(ctx)
}
