package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/storefront-sync/pkg/config"
)

// Config holds all configuration for the syncd sidecar.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server, bound to loopback unless overridden.
	HTTPHost string `env:"SYNCD_HTTP_HOST" envDefault:"127.0.0.1"`
	HTTPPort int    `env:"SYNCD_HTTP_PORT" envDefault:"8090"`

	// Remote commerce API
	CommerceAPIURL     string `env:"COMMERCE_API_URL" envDefault:"http://localhost:8080"`
	HTTPTimeoutSeconds int    `env:"HTTP_TIMEOUT_SECONDS" envDefault:"10"`
	HTTPGetRetries     int    `env:"HTTP_GET_RETRIES" envDefault:"2"`

	// Circuit breaker around the commerce API
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Checkout session persistence
	SessionStore           string `env:"SESSION_STORE" envDefault:"memory"`
	RedisAddr              string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword          string `env:"REDIS_PASSWORD"`
	RedisDB                int    `env:"REDIS_DB" envDefault:"0"`
	RedisSlowCommandMs     int    `env:"REDIS_SLOW_COMMAND_MS" envDefault:"50"`
	CheckoutSessionTTLHour int    `env:"CHECKOUT_SESSION_TTL_HOURS" envDefault:"24"`

	// Cache freshness
	CartMaxAgeSeconds     int `env:"CART_MAX_AGE_SECONDS" envDefault:"30"`
	WishlistMaxAgeSeconds int `env:"WISHLIST_MAX_AGE_SECONDS" envDefault:"60"`

	// Guest cart migration polling
	MigrationSettleMs    int `env:"MIGRATION_SETTLE_MS" envDefault:"500"`
	MigrationMaxAttempts int `env:"MIGRATION_MAX_ATTEMPTS" envDefault:"6"`
	MigrationStepMs      int `env:"MIGRATION_STEP_MS" envDefault:"300"`

	// Cart re-validation before order creation
	CheckoutCartAttempts int `env:"CHECKOUT_CART_ATTEMPTS" envDefault:"3"`
	CheckoutCartStepMs   int `env:"CHECKOUT_CART_STEP_MS" envDefault:"200"`

	// Payment gateway
	GatewayKey          string `env:"GATEWAY_KEY"`
	GatewayTheme        string `env:"GATEWAY_THEME" envDefault:"#2f855a"`
	GatewayMerchantName string `env:"GATEWAY_MERCHANT_NAME" envDefault:"Storefront"`
	GatewayMode         string `env:"GATEWAY_MODE" envDefault:"handoff"`
	GatewayMockSecret   string `env:"GATEWAY_MOCK_SECRET"`

	// Device and guest identity
	DeviceID   string `env:"DEVICE_ID" envDefault:"local"`
	GuestToken string `env:"GUEST_TOKEN"`

	// Kafka analytics events; empty disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Storefront UI origins allowed by CORS
	UIOrigins []string `env:"UI_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load syncd config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	u, err := url.ParseRequestURI(c.CommerceAPIURL)
	if err != nil {
		return fmt.Errorf("invalid COMMERCE_API_URL %q: %w", c.CommerceAPIURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("COMMERCE_API_URL must be http or https, got %q", u.Scheme)
	}
	if c.HTTPTimeoutSeconds < 1 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	if c.HTTPGetRetries < 0 {
		return fmt.Errorf("HTTP_GET_RETRIES must not be negative, got %d", c.HTTPGetRetries)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}

	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.SessionStore)
	}
	if c.CheckoutSessionTTLHour < 1 {
		return fmt.Errorf("CHECKOUT_SESSION_TTL_HOURS must be positive, got %d", c.CheckoutSessionTTLHour)
	}

	if c.MigrationMaxAttempts < 1 {
		return fmt.Errorf("MIGRATION_MAX_ATTEMPTS must be at least 1, got %d", c.MigrationMaxAttempts)
	}
	if c.MigrationSettleMs < 0 || c.MigrationStepMs < 0 {
		return fmt.Errorf("migration delays must not be negative")
	}
	if c.CheckoutCartAttempts < 1 {
		return fmt.Errorf("CHECKOUT_CART_ATTEMPTS must be at least 1, got %d", c.CheckoutCartAttempts)
	}

	switch c.GatewayMode {
	case "handoff":
		if c.GatewayKey == "" && c.Environment == "production" {
			return fmt.Errorf("GATEWAY_KEY is required in production")
		}
	case "mock":
		if c.Environment == "production" {
			return fmt.Errorf("GATEWAY_MODE=mock is not allowed in production")
		}
		if c.GatewayMockSecret == "" {
			return fmt.Errorf("GATEWAY_MOCK_SECRET is required when GATEWAY_MODE=mock")
		}
	default:
		return fmt.Errorf("GATEWAY_MODE must be handoff or mock, got %q", c.GatewayMode)
	}

	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Addr returns the listen address of the sidecar.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// HTTPTimeout is the per-request deadline for commerce API calls.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// SessionTTL is how long an untouched checkout session is kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.CheckoutSessionTTLHour) * time.Hour
}

// CartMaxAge is how long a cart snapshot counts as fresh.
func (c *Config) CartMaxAge() time.Duration {
	return time.Duration(c.CartMaxAgeSeconds) * time.Second
}

// WishlistMaxAge is how long a wishlist snapshot counts as fresh.
func (c *Config) WishlistMaxAge() time.Duration {
	return time.Duration(c.WishlistMaxAgeSeconds) * time.Second
}

// MigrationSettle is the wait before the first migration poll.
func (c *Config) MigrationSettle() time.Duration { return ms(c.MigrationSettleMs) }

// MigrationStep is the linear backoff increment between migration polls.
func (c *Config) MigrationStep() time.Duration { return ms(c.MigrationStepMs) }

// MigrationWindow bounds how long login waits for the cart merge: the
// settle delay plus every linear backoff step, with a second of slack for
// the fetches themselves.
func (c *Config) MigrationWindow() time.Duration {
	n := c.MigrationMaxAttempts
	return c.MigrationSettle() + time.Duration(n*(n-1)/2)*c.MigrationStep() + time.Second
}

// CheckoutCartStep is the backoff increment for cart re-validation.
func (c *Config) CheckoutCartStep() time.Duration { return ms(c.CheckoutCartStepMs) }

// CircuitBreakerInterval is the cyclic period after which closed-state
// counts are cleared.
func (c *Config) CircuitBreakerInterval() time.Duration {
	return time.Duration(c.CBInterval) * time.Second
}

// CircuitBreakerTimeout is how long the breaker stays open.
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return time.Duration(c.CBTimeout) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
