package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	CORSAllowedOrigins []string

	// OrkestaPay API access.
	APIBaseURL   string
	AuthURL      string
	ClientID     string
	ClientSecret string
	// WebhookSecret is the whsec_-prefixed signing key for inbound
	// notifications.
	WebhookSecret string
	// PublicKey and DeviceKey are browser-side tokenizer parameters.
	MerchantID string
	PublicKey  string
	DeviceKey  string

	// FlowMode selects hosted or embedded checkout.
	FlowMode string
	// MarkPaidOnResponse settles the order on a COMPLETED payment response
	// instead of waiting for the webhook.
	MarkPaidOnResponse bool
	Use3DS             bool
	Currency           string

	// Redirect targets for the hosted flow.
	CompletedRedirectURL string
	CanceledRedirectURL  string
	SuccessURL           string
	FailureURL           string

	WebhookReplayTTL time.Duration
	MaxWebhookBody   int64
	RateLimit        string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		APIBaseURL:    valueOrDefault(k.String("ORKESTAPAY_API_URL"), "https://api.orkestapay.com"),
		AuthURL:       valueOrDefault(k.String("ORKESTAPAY_AUTH_URL"), "https://auth.orkestapay.com/oauth/token"),
		ClientID:      k.String("ORKESTAPAY_CLIENT_ID"),
		ClientSecret:  k.String("ORKESTAPAY_CLIENT_SECRET"),
		WebhookSecret: k.String("ORKESTAPAY_WEBHOOK_SECRET"),
		MerchantID:    k.String("ORKESTAPAY_MERCHANT_ID"),
		PublicKey:     k.String("ORKESTAPAY_PUBLIC_KEY"),
		DeviceKey:     k.String("ORKESTAPAY_DEVICE_KEY"),

		FlowMode:           valueOrDefault(k.String("CHECKOUT_FLOW_MODE"), "embedded"),
		MarkPaidOnResponse: parseBool(k.String("MARK_PAID_ON_RESPONSE"), true),
		Use3DS:             parseBool(k.String("CHECKOUT_USE_3DS"), false),
		Currency:           valueOrDefault(k.String("STORE_CURRENCY"), "MXN"),

		CompletedRedirectURL: k.String("CHECKOUT_COMPLETED_URL"),
		CanceledRedirectURL:  k.String("CHECKOUT_CANCELED_URL"),
		SuccessURL:           k.String("ORDER_RECEIVED_URL"),
		FailureURL:           k.String("CHECKOUT_FAILURE_URL"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		MaxWebhookBody:   int64(k.Int("MAX_WEBHOOK_BODY_BYTES")),
		RateLimit:        valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
	}
	if cfg.MaxWebhookBody <= 0 {
		cfg.MaxWebhookBody = 1 << 20
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("ORKESTAPAY_CLIENT_ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("ORKESTAPAY_CLIENT_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("ORKESTAPAY_WEBHOOK_SECRET is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.FlowMode)) {
	case "hosted", "embedded":
	default:
		return nil, fmt.Errorf("CHECKOUT_FLOW_MODE must be hosted or embedded, got %q", cfg.FlowMode)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
