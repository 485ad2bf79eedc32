package main

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"polybot/internal/certs"
	"polybot/internal/config"
)

const (
	fallbackCertPath = "data/cert.pem"
	fallbackKeyPath  = "data/key.pem"
)

var (
	gencertIP   string
	gencertCert string
	gencertKey  string

	gencertCmd = &cobra.Command{
		Use:   "gencert",
		Short: "generate a self-signed certificate bound to an address",
		Long: "Generate a self-signed certificate bound to an address. Without --cert/--key the\n" +
			"paths come from the service configuration (CERT_PATH, KEY_PATH), so a following\n" +
			"`webhook set` uploads the file just written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(gencertIP)
			if err != nil {
				return fmt.Errorf("--ip: %w", err)
			}
			certPath, keyPath := pairPaths(gencertCert, gencertKey)
			mat, err := certs.NewManager().Generate(addr, keyPath, certPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s for %s\n", certPath, keyPath, mat.Address)
			return nil
		},
	}
)

func init() {
	gencertCmd.Flags().StringVar(&gencertIP, "ip", "", "public address to bind the certificate to")
	gencertCmd.Flags().StringVar(&gencertCert, "cert", "", "certificate output path (default: CERT_PATH)")
	gencertCmd.Flags().StringVar(&gencertKey, "key", "", "private key output path (default: KEY_PATH)")
	_ = gencertCmd.MarkFlagRequired("ip")
}

// pairPaths fills unset paths from the service configuration. When the
// configuration cannot be loaded the service defaults are used.
func pairPaths(certPath, keyPath string) (string, string) {
	if certPath != "" && keyPath != "" {
		return certPath, keyPath
	}
	cfgCert, cfgKey := fallbackCertPath, fallbackKeyPath
	if cfg, err := config.Load(); err == nil {
		cfgCert, cfgKey = cfg.CertPath, cfg.KeyPath
	}
	if certPath == "" {
		certPath = cfgCert
	}
	if keyPath == "" {
		keyPath = cfgKey
	}
	return certPath, keyPath
}
