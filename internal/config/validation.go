package config

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the merchant configuration.
func (c *MerchantConfig) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8453"
	}
	if c.Checkout.SessionTTL.Duration <= 0 {
		c.Checkout.SessionTTL = Duration{Duration: 5 * time.Minute}
	}
	if c.Checkout.CleanupInterval.Duration <= 0 {
		c.Checkout.CleanupInterval = Duration{Duration: 30 * time.Second}
	}
	if c.Payments.OTP.TTL.Duration <= 0 {
		c.Payments.OTP.TTL = Duration{Duration: 5 * time.Minute}
	}
	if c.Payments.OTP.MaxAttempts <= 0 {
		c.Payments.OTP.MaxAttempts = 3
	}
	if c.Payments.Signer.Timeout.Duration <= 0 {
		c.Payments.Signer.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Products.Source == "" {
		c.Products.Source = "yaml"
	}
	if c.Products.Currency == "" {
		c.Products.Currency = "SGD"
	}
	if c.Products.PostgresTableName == "" {
		c.Products.PostgresTableName = "products"
	}
	if c.Products.MongoDBCollection == "" {
		c.Products.MongoDBCollection = "products"
	}
	if c.Promocodes.Source == "" {
		c.Promocodes.Source = "yaml"
	}
	if c.Promocodes.PostgresTableName == "" {
		c.Promocodes.PostgresTableName = "promocodes"
	}
	if c.RequestLog.Backend == "" {
		c.RequestLog.Backend = "memory"
	}
	if c.RequestLog.Capacity <= 0 {
		c.RequestLog.Capacity = 1000
	}
	if c.RequestLog.QueueSize <= 0 {
		c.RequestLog.QueueSize = 256
	}
	if c.RequestLog.UCPTableName == "" {
		c.RequestLog.UCPTableName = "ucp_request_logs"
	}
	if c.RequestLog.AP2TableName == "" {
		c.RequestLog.AP2TableName = "ap2_request_logs"
	}

	// IMPORTANT: Clear YAML catalog when using database sources
	// This prevents confusion where users have both YAML and database configured
	// and expect database to be used but YAML silently takes precedence
	if c.Products.Source == "postgres" || c.Products.Source == "mongodb" {
		if len(c.Products.Catalog) > 0 {
			fmt.Printf("WARNING: products.catalog (YAML) is defined but source='%s'\n", c.Products.Source)
			fmt.Printf("   Ignoring YAML catalog and using %s database instead.\n", c.Products.Source)
			c.Products.Catalog = nil
		}
	}
	if c.Promocodes.Source == "postgres" {
		if len(c.Promocodes.Codes) > 0 {
			fmt.Printf("WARNING: promocodes.codes (YAML) is defined but source='postgres'\n")
			fmt.Printf("   Ignoring YAML codes and using the postgres database instead.\n")
			c.Promocodes.Codes = nil
		}
	}

	// Seed the demo catalog and demo promocodes when the YAML source is left
	// empty, so the service runs with zero configuration.
	if c.Products.Source == "yaml" && len(c.Products.Catalog) == 0 {
		c.Products.Catalog = demoCatalog()
	}
	if c.Promocodes.Source == "yaml" && len(c.Promocodes.Codes) == 0 {
		c.Promocodes.Codes = demoPromocodes()
	}

	// Normalize seed fields (only for YAML sources)
	for key, seed := range c.Products.Catalog {
		if seed.ID == "" {
			seed.ID = key
		}
		if seed.SKU == "" {
			seed.SKU = key
		}
		c.Products.Catalog[key] = seed
	}
	for key, seed := range c.Promocodes.Codes {
		if seed.Code == "" {
			seed.Code = key
		}
		seed.Code = strings.ToUpper(seed.Code)
		if seed.Currency == "" {
			seed.Currency = c.Products.Currency
		}
		c.Promocodes.Codes[key] = seed
	}

	return c.validate()
}

// validate checks that required merchant configuration fields are set correctly.
func (c *MerchantConfig) validate() error {
	var errs []string

	if c.Merchant.ID == "" {
		errs = append(errs, "merchant.id is required")
	}
	if c.Merchant.Name == "" {
		errs = append(errs, "merchant.name is required")
	}
	if err := validateHTTPURL(c.Merchant.URL); err != nil {
		errs = append(errs, fmt.Sprintf("merchant.url: %v", err))
	}

	if c.Payments.StepUp.LowProbability < 0 || c.Payments.StepUp.LowProbability > 1 {
		errs = append(errs, "payments.step_up.low_probability must be in [0,1]")
	}
	if c.Payments.StepUp.HighProbability < 0 || c.Payments.StepUp.HighProbability > 1 {
		errs = append(errs, "payments.step_up.high_probability must be in [0,1]")
	}
	if c.Payments.StepUp.LowProbability > c.Payments.StepUp.HighProbability {
		errs = append(errs, "payments.step_up.low_probability must not exceed high_probability")
	}
	if c.Payments.StepUp.AmountThreshold < 0 {
		errs = append(errs, "payments.step_up.amount_threshold must be >= 0")
	}
	if c.Payments.OTP.DemoMode && !isSixDigits(c.Payments.OTP.DemoCode) {
		errs = append(errs, "payments.otp.demo_code must be a 6-digit numeric when demo_mode is enabled")
	}
	if c.Payments.Signer.RemoteURL != "" {
		if err := validateHTTPURL(c.Payments.Signer.RemoteURL); err != nil {
			errs = append(errs, fmt.Sprintf("payments.signer.remote_url: %v", err))
		}
	}

	switch c.Products.Source {
	case "yaml":
		if len(c.Products.Catalog) == 0 {
			errs = append(errs, "products.catalog must define at least one product when source is 'yaml'")
		}
	case "postgres":
		if c.Products.PostgresURL == "" {
			errs = append(errs, "products.postgres_url is required when source is 'postgres'")
		}
	case "mongodb":
		if c.Products.MongoDBURL == "" {
			errs = append(errs, "products.mongodb_url is required when source is 'mongodb'")
		}
		if c.Products.MongoDBDatabase == "" {
			errs = append(errs, "products.mongodb_database is required when source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("products.source %q is not supported (yaml, postgres, mongodb)", c.Products.Source))
	}

	switch c.Promocodes.Source {
	case "yaml", "disabled":
	case "postgres":
		if c.Promocodes.PostgresURL == "" {
			errs = append(errs, "promocodes.postgres_url is required when source is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("promocodes.source %q is not supported (yaml, postgres, disabled)", c.Promocodes.Source))
	}

	for key, seed := range c.Promocodes.Codes {
		if seed.DiscountType != "percentage" && seed.DiscountType != "fixed_amount" {
			errs = append(errs, fmt.Sprintf("promocodes.codes[%s].discount_type must be 'percentage' or 'fixed_amount'", key))
		}
		if seed.DiscountValue <= 0 {
			errs = append(errs, fmt.Sprintf("promocodes.codes[%s].discount_value must be positive", key))
		}
	}

	switch c.RequestLog.Backend {
	case "memory":
	case "postgres":
		if c.RequestLog.PostgresURL == "" {
			errs = append(errs, "request_log.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.RequestLog.MongoDBURL == "" {
			errs = append(errs, "request_log.mongodb_url is required when backend is 'mongodb'")
		}
		if c.RequestLog.MongoDBDatabase == "" {
			errs = append(errs, "request_log.mongodb_database is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("request_log.backend %q is not supported (memory, postgres, mongodb)", c.RequestLog.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// finalize applies defaults and validates the shopper configuration.
func (c *ShopperConfig) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8452"
	}
	if c.Merchant.Timeout.Duration <= 0 {
		c.Merchant.Timeout = Duration{Duration: 30 * time.Second}
	}
	if c.Merchant.DiscoveryCacheTTL.Duration <= 0 {
		c.Merchant.DiscoveryCacheTTL = Duration{Duration: 5 * time.Minute}
	}
	if c.Merchant.RetryAttempts <= 0 {
		c.Merchant.RetryAttempts = 3
	}
	if c.Merchant.RetryBackoff.Duration <= 0 {
		c.Merchant.RetryBackoff = Duration{Duration: 2 * time.Second}
	}
	if c.Credentials.Origin == "" {
		c.Credentials.Origin = "http://localhost:8452"
	}
	if c.Tokenization.Timeout.Duration <= 0 {
		c.Tokenization.Timeout = Duration{Duration: 30 * time.Second}
	}

	// Tokenization needs network credentials; without them the adapter cannot
	// sign requests, so fall back to the disabled pass-through.
	if c.Tokenization.Enabled && (c.Tokenization.ConsumerKey == "" || c.Tokenization.SigningKeyPath == "") {
		fmt.Printf("WARNING: tokenization.enabled is set but consumer_key or signing_key_path is missing\n")
		fmt.Printf("   Disabling network tokenization for this run.\n")
		c.Tokenization.Enabled = false
	}

	return c.validate()
}

// validate checks that required shopper configuration fields are set correctly.
func (c *ShopperConfig) validate() error {
	var errs []string

	if c.Merchant.BaseURL == "" {
		errs = append(errs, "merchant.base_url is required")
	} else if err := validateHTTPURL(c.Merchant.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("merchant.base_url: %v", err))
	}

	if c.Credentials.PANKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Credentials.PANKey)
		if err != nil {
			errs = append(errs, fmt.Sprintf("credentials.pan_key is not valid base64: %v", err))
		} else if len(key) != 32 {
			errs = append(errs, fmt.Sprintf("credentials.pan_key must decode to 32 bytes, got %d", len(key)))
		}
	}

	if c.Tokenization.BaseURL != "" {
		if err := validateHTTPURL(c.Tokenization.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("tokenization.base_url: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateHTTPURL checks that a URL parses and carries an http(s) scheme.
func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url missing host")
	}
	return nil
}

// isSixDigits reports whether s is exactly six ASCII digits.
func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
