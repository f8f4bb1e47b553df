// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with no setup: without DB_DSN the
// configuration lives in memory, and without sink settings notifications only reach the page
// and the log.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/kick-chat-monitor/dom"
)

// Selector defaults, matching the chat page markup.
const (
	DefaultContainerSelector         = "#chat-chatroom .flex.flex-col.overflow-y-auto"
	DefaultContainerFallbackSelector = ".chat-container"
	DefaultEntrySelector             = ".break-words"
	DefaultInputSelector             = "#message-input .ProseMirror"
)

type Config struct {
	// HTTP
	HTTPAddr    string
	EnablePprof bool

	// Database; empty selects the in-memory store
	DBDsn string

	// Chat page
	HealthCheckInterval       time.Duration
	ContainerSelector         string
	ContainerFallbackSelector string
	EntrySelector             string
	InputSelector             string

	// Sound
	ToneFrequencyHz float64
	ToneDuration    time.Duration

	// Page bridge
	BridgeToken string

	// Notification sinks
	NotifyWebhookURL    string
	NotifyWebhookToken  string
	NATSURL             string
	NATSSubject         string
	NotifyRatePerMinute int

	// Admin auth for write endpoints
	AdminToken    string
	AdminUsername string
	AdminPassword string

	// Write-endpoint rate limiting
	RateLimitEnabled       bool
	RateLimitRequestsPerIP int
	RateLimitWindow        time.Duration

	// CORS; permissive by default outside production
	CORSPermissive     bool
	CORSAllowedOrigins []string

	// Tracing
	OTLPEndpoint string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// Load reads environment variables and applies defaults. It fails only on malformed values.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.EnablePprof = os.Getenv("ENABLE_PPROF") == "1"
	cfg.DBDsn = os.Getenv("DB_DSN")

	if cfg.HealthCheckInterval, err = envDuration("HEALTH_CHECK_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	cfg.ContainerSelector = envOr("CHAT_CONTAINER_SELECTOR", DefaultContainerSelector)
	cfg.ContainerFallbackSelector = envOr("CHAT_CONTAINER_FALLBACK_SELECTOR", DefaultContainerFallbackSelector)
	cfg.EntrySelector = envOr("CHAT_ENTRY_SELECTOR", DefaultEntrySelector)
	cfg.InputSelector = envOr("CHAT_INPUT_SELECTOR", DefaultInputSelector)
	for key, sel := range map[string]string{
		"CHAT_CONTAINER_SELECTOR":          cfg.ContainerSelector,
		"CHAT_CONTAINER_FALLBACK_SELECTOR": cfg.ContainerFallbackSelector,
		"CHAT_ENTRY_SELECTOR":              cfg.EntrySelector,
		"CHAT_INPUT_SELECTOR":              cfg.InputSelector,
	} {
		if sel != "" && !dom.ValidSelector(sel) {
			return nil, fmt.Errorf("invalid %s: %q is not a CSS selector", key, sel)
		}
	}

	cfg.ToneFrequencyHz = 800
	if v := os.Getenv("TONE_FREQUENCY_HZ"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid TONE_FREQUENCY_HZ: %q", v)
		}
		cfg.ToneFrequencyHz = f
	}
	if cfg.ToneDuration, err = envDuration("TONE_DURATION", 200*time.Millisecond); err != nil {
		return nil, err
	}

	cfg.BridgeToken = os.Getenv("BRIDGE_TOKEN")

	cfg.NotifyWebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	cfg.NotifyWebhookToken = os.Getenv("NOTIFY_WEBHOOK_TOKEN")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubject = envOr("NATS_SUBJECT", "kcm.notifications")
	cfg.NotifyRatePerMinute = 30
	if v := os.Getenv("NOTIFY_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_RATE_PER_MINUTE: %w", err)
		}
		cfg.NotifyRatePerMinute = n
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "0"
	cfg.RateLimitRequestsPerIP = 30
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitRequestsPerIP = n
		}
	}
	cfg.RateLimitWindow = time.Minute
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitWindow = time.Duration(n) * time.Second
		}
	}

	mode := strings.ToLower(os.Getenv("ENV"))
	cfg.CORSPermissive = mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.CORSPermissive = v == "1" || v == "true"
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// ContainerSelectors returns the chat container selectors, most specific first.
func (c *Config) ContainerSelectors() []string {
	out := []string{c.ContainerSelector}
	if c.ContainerFallbackSelector != "" {
		out = append(out, c.ContainerFallbackSelector)
	}
	return out
}

// InputSelectors returns the chat input selectors, most specific first.
func (c *Config) InputSelectors() []string {
	return []string{c.InputSelector, `[contenteditable="true"]`}
}

// AdminAuthConfigured reports whether write endpoints are protected.
func (c *Config) AdminAuthConfigured() bool {
	return c.AdminToken != "" || (c.AdminUsername != "" && c.AdminPassword != "")
}
