package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"POLYBOT_CONFIG",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_WEBHOOK_SECRET",
	"TELEGRAM_API_BASE",
	"PORT",
	"CERT_PATH",
	"KEY_PATH",
	"POLL_INTERVAL",
	"HTTP_TIMEOUT",
	"IP_RESOLVER_URL",
	"DEFAULT_CITY",
	"ALLOWED_CIDRS",
	"ENFORCE_ALLOWLIST",
	"METRICS_ADDR",
	"LOG_LEVEL",
	"LOG_VERBOSE",
	"LOG_FILE",
	"LOG_FORMAT",
	"OTEL_ENABLED",
	"OTEL_SAMPLE_RATIO",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_MinimalValid(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TelegramBotToken != "test-token" {
		t.Errorf("token = %q, want %q", cfg.TelegramBotToken, "test-token")
	}
	if cfg.Port != 8443 {
		t.Errorf("port = %d, want 8443", cfg.Port)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %s, want 60s", cfg.PollInterval)
	}
	if cfg.CertPath != "data/cert.pem" || cfg.KeyPath != "data/key.pem" {
		t.Errorf("paths = %q,%q", cfg.CertPath, cfg.KeyPath)
	}
	if cfg.DefaultCity != "Vienna" {
		t.Errorf("default city = %q", cfg.DefaultCity)
	}
	if len(cfg.AllowedCIDRs) != 2 {
		t.Fatalf("allowed cidrs = %v, want telegram ranges", cfg.AllowedCIDRs)
	}
	if !cfg.EnforceAllowlist {
		t.Error("allowlist should be enforced by default")
	}
	if cfg.ListenAddr() != ":8443" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
}

func TestLoad_MissingToken(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("PORT", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoad_PollIntervalSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("POLL_INTERVAL", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %s, want 30s", cfg.PollInterval)
	}
}

func TestLoad_BadCIDR(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("ALLOWED_CIDRS", "10.0.0.0/8,not-a-range")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad cidr")
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "polybot.toml")
	data := `
telegram_bot_token = "from-file"
port = 88
default_city = "Graz"
poll_interval = "2m"
allowed_cidrs = ["10.0.0.0/8", "192.168.1.7"]
enforce_allowlist = false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLYBOT_CONFIG", path)
	t.Setenv("DEFAULT_CITY", "Linz")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TelegramBotToken != "from-file" {
		t.Errorf("token = %q", cfg.TelegramBotToken)
	}
	if cfg.Port != 88 {
		t.Errorf("port = %d, want 88", cfg.Port)
	}
	if cfg.DefaultCity != "Linz" {
		t.Errorf("default city = %q, env should win", cfg.DefaultCity)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.EnforceAllowlist {
		t.Error("allowlist should be disabled by file")
	}
	if len(cfg.AllowedCIDRs) != 2 || cfg.AllowedCIDRs[1].Bits() != 32 {
		t.Errorf("allowed cidrs = %v", cfg.AllowedCIDRs)
	}
}

func TestLoad_BadLogFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("LOG_FORMAT", "xml")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestLoad_SampleRatio(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OTELSampleRatio != 0.25 {
		t.Errorf("sample ratio = %v", cfg.OTELSampleRatio)
	}

	t.Setenv("OTEL_SAMPLE_RATIO", "2")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for ratio > 1")
	}
}
