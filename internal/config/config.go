package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Telegram publishes its webhook source ranges at https://core.telegram.org/bots/webhooks.
const defaultAllowedCIDRs = "149.154.160.0/20,91.108.4.0/22"

type Config struct {
	TelegramBotToken      string         `toml:"telegram_bot_token"`
	TelegramWebhookSecret string         `toml:"telegram_webhook_secret"`
	TelegramAPIBase       string         `toml:"telegram_api_base"`
	Port                  int            `toml:"port"`
	CertPath              string         `toml:"cert_path"`
	KeyPath               string         `toml:"key_path"`
	PollInterval          time.Duration  `toml:"-"`
	PollIntervalRaw       string         `toml:"poll_interval"`
	IPResolverURL         string         `toml:"ip_resolver_url"`
	DefaultCity           string         `toml:"default_city"`
	AllowedCIDRs          []netip.Prefix `toml:"-"`
	AllowedCIDRsRaw       []string       `toml:"allowed_cidrs"`
	EnforceAllowlist      bool           `toml:"enforce_allowlist"`
	HTTPTimeout           time.Duration  `toml:"-"`
	MetricsAddr           string         `toml:"metrics_addr"`
	AffirmationURL        string         `toml:"affirmation_url"`
	WeatherGeocodeURL     string         `toml:"weather_geocode_url"`
	WeatherForecastURL    string         `toml:"weather_forecast_url"`
	LogLevel              string         `toml:"log_level"`
	LogVerbose            bool           `toml:"log_verbose"`
	LogFile               string         `toml:"log_file"` // empty logs to stdout
	LogFormat             string         `toml:"log_format"`
	OTELEnabled           bool           `toml:"otel_enabled"`
	OTELEndpoint          string         `toml:"otel_endpoint"`
	OTELServiceName       string         `toml:"otel_service_name"`
	OTELEnvironment       string         `toml:"otel_environment"`
	OTELInsecure          bool           `toml:"otel_insecure"`
	OTELSampleRatio       float64        `toml:"otel_sample_ratio"`
}

// Load builds the process configuration. A .env file in the working directory
// is applied first, then the optional TOML file named by POLYBOT_CONFIG, then
// plain environment variables, which always win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		EnforceAllowlist: true,
	}
	if path := os.Getenv("POLYBOT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.TelegramBotToken = envOr("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	cfg.TelegramWebhookSecret = envOr("TELEGRAM_WEBHOOK_SECRET", cfg.TelegramWebhookSecret)
	cfg.TelegramAPIBase = envOr("TELEGRAM_API_BASE", orDefault(cfg.TelegramAPIBase, "https://api.telegram.org/bot"))

	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("PORT must be a number: %w", err)
		}
		cfg.Port = port
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}

	cfg.CertPath = envOr("CERT_PATH", orDefault(cfg.CertPath, "data/cert.pem"))
	cfg.KeyPath = envOr("KEY_PATH", orDefault(cfg.KeyPath, "data/key.pem"))
	if cfg.CertPath == cfg.KeyPath {
		return nil, fmt.Errorf("CERT_PATH and KEY_PATH must differ")
	}

	interval, err := parseDuration(envOr("POLL_INTERVAL", orDefault(cfg.PollIntervalRaw, "60s")))
	if err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
	}
	cfg.PollInterval = interval

	timeout, err := parseDuration(envOr("HTTP_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.IPResolverURL = envOr("IP_RESOLVER_URL", orDefault(cfg.IPResolverURL, "https://api.ipify.org"))
	cfg.DefaultCity = envOr("DEFAULT_CITY", orDefault(cfg.DefaultCity, "Vienna"))

	rawCIDRs := cfg.AllowedCIDRsRaw
	if v := os.Getenv("ALLOWED_CIDRS"); v != "" {
		rawCIDRs = splitList(v)
	}
	if len(rawCIDRs) == 0 {
		rawCIDRs = splitList(defaultAllowedCIDRs)
	}
	prefixes, err := ParsePrefixes(rawCIDRs)
	if err != nil {
		return nil, fmt.Errorf("ALLOWED_CIDRS: %w", err)
	}
	cfg.AllowedCIDRs = prefixes
	if v := os.Getenv("ENFORCE_ALLOWLIST"); v != "" {
		cfg.EnforceAllowlist = isTrue(v)
	}

	cfg.MetricsAddr = envOr("METRICS_ADDR", cfg.MetricsAddr)
	cfg.AffirmationURL = envOr("AFFIRMATION_URL", orDefault(cfg.AffirmationURL, "https://www.affirmations.dev"))
	cfg.WeatherGeocodeURL = envOr("WEATHER_GEOCODE_URL", orDefault(cfg.WeatherGeocodeURL, "https://geocoding-api.open-meteo.com/v1/search"))
	cfg.WeatherForecastURL = envOr("WEATHER_FORECAST_URL", orDefault(cfg.WeatherForecastURL, "https://api.open-meteo.com/v1/forecast"))

	cfg.LogLevel = envOr("LOG_LEVEL", orDefault(cfg.LogLevel, "info"))
	if v := os.Getenv("LOG_VERBOSE"); v != "" {
		cfg.LogVerbose = isTrue(v)
	}
	cfg.LogFile = envOr("LOG_FILE", cfg.LogFile)
	cfg.LogFormat = strings.ToLower(envOr("LOG_FORMAT", orDefault(cfg.LogFormat, "text")))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.OTELEnabled = isTrue(v)
	}
	cfg.OTELEndpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELServiceName = envOr("OTEL_SERVICE_NAME", orDefault(cfg.OTELServiceName, "polybot"))
	cfg.OTELEnvironment = envOr("OTEL_ENVIRONMENT", orDefault(cfg.OTELEnvironment, "dev"))
	if v := os.Getenv("OTEL_INSECURE"); v != "" {
		cfg.OTELInsecure = isTrue(v)
	}
	if v := os.Getenv("OTEL_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be a number: %w", err)
		}
		cfg.OTELSampleRatio = ratio
	}
	if cfg.OTELSampleRatio < 0 || cfg.OTELSampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO out of range: %v", cfg.OTELSampleRatio)
	}

	return cfg, nil
}

// ListenAddr is the address the HTTPS listener binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParsePrefixes accepts CIDR ranges or bare addresses (treated as single-host ranges).
func ParsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", s, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		// bare integers are seconds
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, err
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be > 0, got %s", raw)
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func isTrue(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
