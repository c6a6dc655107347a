package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// MerchantConfig holds merchant service configuration aggregated from file and environment variables.
type MerchantConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Merchant       MerchantInfo         `yaml:"merchant"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Products       ProductsConfig       `yaml:"products"`
	Promocodes     PromocodesConfig     `yaml:"promocodes"`
	RequestLog     RequestLogConfig     `yaml:"request_log"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ShopperConfig holds shopper service configuration aggregated from file and environment variables.
type ShopperConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Merchant       MerchantEndpoint     `yaml:"merchant"`
	Credentials    CredentialsConfig    `yaml:"credentials"`
	Tokenization   TokenizationConfig   `yaml:"tokenization"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// MerchantInfo identifies the merchant in discovery responses and mandates.
type MerchantInfo struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// CheckoutConfig holds checkout session lifecycle configuration.
type CheckoutConfig struct {
	SessionTTL      Duration `yaml:"session_ttl"`      // Inactivity window before non-terminal sessions expire (default: 5m)
	CleanupInterval Duration `yaml:"cleanup_interval"` // How often the expiry reaper runs (default: 30s)
	EnforceCatalog  bool     `yaml:"enforce_catalog"`  // Reject line items whose SKU is not in the catalog
}

// PaymentsConfig holds AP2 merchant agent configuration.
type PaymentsConfig struct {
	StepUp StepUpConfig `yaml:"step_up"`
	OTP    OTPConfig    `yaml:"otp"`
	Signer SignerConfig `yaml:"signer"`

	// Credentials maps payer emails to base64 Ed25519 public keys. When
	// non-empty, mandate authorizations are verified against these keys;
	// when empty, the demo verifier only checks signature shape.
	Credentials map[string]string `yaml:"credentials"`
}

// StepUpConfig controls risk-based OTP escalation.
// The agent draws a deterministic value in [0,1) per mandate and challenges
// when the draw falls below the band for the transaction amount.
type StepUpConfig struct {
	Enabled         bool    `yaml:"enabled"`
	AmountThreshold float64 `yaml:"amount_threshold"` // Totals at or above this use the high band (default: 100.0)
	LowProbability  float64 `yaml:"low_probability"`  // Challenge band below the threshold (default: 0.10)
	HighProbability float64 `yaml:"high_probability"` // Challenge band at/above the threshold (default: 0.30)
}

// OTPConfig holds step-up challenge settings.
type OTPConfig struct {
	DemoMode    bool     `yaml:"demo_mode"`    // Use the fixed demo code instead of random per-challenge codes
	DemoCode    string   `yaml:"demo_code"`    // 6-digit code accepted in demo mode (default: "123456")
	TTL         Duration `yaml:"ttl"`          // Challenge validity window (default: 5m)
	MaxAttempts int      `yaml:"max_attempts"` // Verification attempts before the challenge is exhausted (default: 3)
}

// SignerConfig holds receipt signing configuration.
// With a remote URL set, receipts are signed by the external signer; otherwise
// a local HMAC signer is used when a secret is configured.
type SignerConfig struct {
	Secret    string   `yaml:"secret"`
	RemoteURL string   `yaml:"remote_url"`
	Timeout   Duration `yaml:"timeout"`
}

// ProductsConfig holds product catalog configuration.
type ProductsConfig struct {
	Source            string                 `yaml:"source"`              // "yaml", "postgres", or "mongodb"
	Currency          string                 `yaml:"currency"`            // Catalog currency (default: SGD)
	CacheTTL          Duration               `yaml:"cache_ttl"`           // How long to cache catalog reads (0 = no cache)
	PostgresURL       string                 `yaml:"postgres_url"`        // PostgreSQL connection string
	PostgresTableName string                 `yaml:"postgres_table_name"` // PostgreSQL table name (default: "products")
	MongoDBURL        string                 `yaml:"mongodb_url"`         // MongoDB connection string
	MongoDBDatabase   string                 `yaml:"mongodb_database"`    // MongoDB database name
	MongoDBCollection string                 `yaml:"mongodb_collection"`  // MongoDB collection name (default: "products")
	Catalog           map[string]ProductSeed `yaml:"catalog"`             // Only used when Source = "yaml"
	PostgresPool      PostgresPoolConfig     `yaml:"postgres_pool"`       // PostgreSQL connection pool settings
}

// ProductSeed defines a single catalog product in YAML configuration.
type ProductSeed struct {
	ID          string  `yaml:"id"`
	SKU         string  `yaml:"sku"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"` // Major currency units (e.g. 4.99)
	Category    string  `yaml:"category"`
	Brand       string  `yaml:"brand"`
	ImageURL    string  `yaml:"image_url"`
	Active      *bool   `yaml:"active"` // nil = active
}

// PromocodesConfig holds promocode system configuration.
type PromocodesConfig struct {
	Source            string                   `yaml:"source"`              // "yaml", "postgres", or "disabled"
	CacheTTL          Duration                 `yaml:"cache_ttl"`           // Cache TTL for promocode lookups (short, e.g. 1m)
	PostgresURL       string                   `yaml:"postgres_url"`        // PostgreSQL connection string
	PostgresTableName string                   `yaml:"postgres_table_name"` // PostgreSQL table name (default: "promocodes")
	Codes             map[string]PromocodeSeed `yaml:"codes"`               // Only used when Source = "yaml"
	PostgresPool      PostgresPoolConfig       `yaml:"postgres_pool"`       // PostgreSQL connection pool settings
}

// PromocodeSeed defines a discount code in YAML configuration.
type PromocodeSeed struct {
	Code              string   `yaml:"code"`
	Description       string   `yaml:"description"`
	DiscountType      string   `yaml:"discount_type"`       // "percentage" or "fixed_amount"
	DiscountValue     float64  `yaml:"discount_value"`      // Percentage (0-100) or fixed amount
	Currency          string   `yaml:"currency"`            // For fixed_amount discounts
	MinPurchaseAmount *float64 `yaml:"min_purchase_amount"` // Minimum purchase amount required
	MaxDiscountAmount *float64 `yaml:"max_discount_amount"` // Discount cap for percentage discounts
	UsageLimit        *int     `yaml:"usage_limit"`         // nil = unlimited, N = max uses
	StartsAt          string   `yaml:"starts_at"`           // RFC3339 timestamp when the code becomes valid
	ExpiresAt         string   `yaml:"expires_at"`          // RFC3339 timestamp when the code expires
	ValidFor          Duration `yaml:"valid_for"`           // Validity window from service start (alternative to expires_at)
	Active            *bool    `yaml:"active"`              // nil = active
}

// RequestLogConfig holds UCP/AP2 request log recorder configuration.
type RequestLogConfig struct {
	Backend         string             `yaml:"backend"`           // "memory", "postgres", or "mongodb"
	Capacity        int                `yaml:"capacity"`          // Memory backend ring size (default: 1000)
	QueueSize       int                `yaml:"queue_size"`        // Async persistence queue depth (default: 256)
	PostgresURL     string             `yaml:"postgres_url"`      // PostgreSQL connection string
	UCPTableName    string             `yaml:"ucp_table_name"`    // UCP log table/collection (default: "ucp_request_logs")
	AP2TableName    string             `yaml:"ap2_table_name"`    // AP2 log table/collection (default: "ap2_request_logs")
	MongoDBURL      string             `yaml:"mongodb_url"`       // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"`  // MongoDB database name
	DashboardAPIKey string             `yaml:"dashboard_api_key"` // Optional API key protecting dashboard endpoints
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`     // PostgreSQL connection pool settings
}

// MerchantEndpoint points the shopper service at its merchant.
type MerchantEndpoint struct {
	BaseURL           string   `yaml:"base_url"`            // Merchant service base URL (default: http://localhost:8453)
	DiscoveryCacheTTL Duration `yaml:"discovery_cache_ttl"` // How long the fetched UCP profile stays fresh (default: 5m)
	Timeout           Duration `yaml:"timeout"`             // Deadline on every outbound call (default: 30s)
	RetryAttempts     int      `yaml:"retry_attempts"`      // Startup discovery fetch attempts (default: 3)
	RetryBackoff      Duration `yaml:"retry_backoff"`       // Delay between startup fetch attempts (default: 2s)
}

// CredentialsConfig holds credentials provider configuration.
type CredentialsConfig struct {
	PANKey string `yaml:"pan_key"` // Base64 AES-256 key (32 bytes); generated at startup when empty
	Origin string `yaml:"origin"`  // Expected origin in device attestations/assertions
}

// TokenizationConfig holds network tokenization adapter configuration.
type TokenizationConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Sandbox        bool     `yaml:"sandbox"`          // Use the network's sandbox environment (default: true)
	BaseURL        string   `yaml:"base_url"`         // Optional override of the sandbox/production default
	ConsumerKey    string   `yaml:"consumer_key"`     // Network API consumer key
	SigningKeyPath string   `yaml:"signing_key_path"` // Path to the PEM RSA private key for OAuth1 signing
	Timeout        Duration `yaml:"timeout"`          // Per-call timeout (default: 30s)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// RateLimitConfig holds rate limiting configuration.
// Provides two-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool     `yaml:"global_enabled"` // Enable global rate limiting
	GlobalLimit   int      `yaml:"global_limit"`   // Requests allowed per global window
	GlobalWindow  Duration `yaml:"global_window"`  // Time window for global limit

	// Per-IP rate limiting
	PerIPEnabled bool     `yaml:"per_ip_enabled"` // Enable per-IP rate limiting
	PerIPLimit   int      `yaml:"per_ip_limit"`   // Requests allowed per IP per window
	PerIPWindow  Duration `yaml:"per_ip_window"`  // Time window for per-IP limit
}

// APIKeyConfig holds API key authentication and tier configuration.
// Allows trusted partners to bypass rate limits via X-API-Key header.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"` // Enable API key authentication (default: false)
	Keys    map[string]string `yaml:"keys"`    // Map of API key -> tier (free, pro, enterprise, partner)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled      bool                 `yaml:"enabled"`      // Enable circuit breakers (default: true)
	Signer       BreakerServiceConfig `yaml:"signer"`       // Remote receipt-signer circuit breaker
	Tokenization BreakerServiceConfig `yaml:"tokenization"` // Network tokenization circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
