package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the merchant config.
// Environment variables take precedence over YAML configuration.
// All merchant env vars use UCP_ prefix for namespace isolation.
func (c *MerchantConfig) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "UCP_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "UCP_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "UCP_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Merchant identity
	setIfEnv(&c.Merchant.ID, "UCP_MERCHANT_ID")
	setIfEnv(&c.Merchant.Name, "UCP_MERCHANT_NAME")
	setIfEnv(&c.Merchant.URL, "UCP_MERCHANT_URL")

	// Checkout config
	setDurationIfEnv(&c.Checkout.SessionTTL, "UCP_SESSION_TTL")
	setBoolIfEnv(&c.Checkout.EnforceCatalog, "UCP_ENFORCE_CATALOG")

	// Step-up / OTP config
	setBoolIfEnv(&c.Payments.StepUp.Enabled, "UCP_STEP_UP_ENABLED")
	setFloatIfEnv(&c.Payments.StepUp.AmountThreshold, "UCP_STEP_UP_AMOUNT_THRESHOLD")
	setBoolIfEnv(&c.Payments.OTP.DemoMode, "UCP_OTP_DEMO_MODE")
	setIfEnv(&c.Payments.OTP.DemoCode, "UCP_OTP_DEMO_CODE")

	// Receipt signer config
	setIfEnv(&c.Payments.Signer.Secret, "UCP_SIGNER_SECRET")
	setIfEnv(&c.Payments.Signer.RemoteURL, "UCP_SIGNER_URL")

	// Product catalog config
	setIfEnv(&c.Products.Source, "UCP_PRODUCT_SOURCE")
	setIfEnv(&c.Products.Currency, "UCP_PRODUCT_CURRENCY")
	setIfEnv(&c.Products.PostgresURL, "UCP_PRODUCT_POSTGRES_URL")
	setIfEnv(&c.Products.MongoDBURL, "UCP_PRODUCT_MONGODB_URL")
	setIfEnv(&c.Products.MongoDBDatabase, "UCP_PRODUCT_MONGODB_DATABASE")
	setIfEnv(&c.Products.MongoDBCollection, "UCP_PRODUCT_MONGODB_COLLECTION")
	setDurationIfEnv(&c.Products.CacheTTL, "UCP_PRODUCT_CACHE_TTL")

	// Promocode config
	setIfEnv(&c.Promocodes.Source, "UCP_PROMOCODE_SOURCE")
	setIfEnv(&c.Promocodes.PostgresURL, "UCP_PROMOCODE_POSTGRES_URL")
	setDurationIfEnv(&c.Promocodes.CacheTTL, "UCP_PROMOCODE_CACHE_TTL")

	// Request log config
	setIfEnv(&c.RequestLog.Backend, "UCP_REQUEST_LOG_BACKEND")
	setIfEnv(&c.RequestLog.PostgresURL, "UCP_REQUEST_LOG_POSTGRES_URL")
	setIfEnv(&c.RequestLog.MongoDBURL, "UCP_REQUEST_LOG_MONGODB_URL")
	setIfEnv(&c.RequestLog.MongoDBDatabase, "UCP_REQUEST_LOG_MONGODB_DATABASE")
	setIfEnv(&c.RequestLog.DashboardAPIKey, "UCP_DASHBOARD_API_KEY")

	// API Key config
	setBoolIfEnv(&c.APIKey.Enabled, "UCP_API_KEY_ENABLED")
	// Load API keys (UCP_API_KEY_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "UCP_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "UCP_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		// UCP_API_KEY_DASH_ABC123=partner -> key: "dash_abc123", tier: "partner"
		key := strings.ToLower(name)
		tier := strings.TrimSpace(parts[1])
		c.APIKey.Keys[key] = tier
	}
}

// applyEnvOverrides applies environment variable overrides to the shopper config.
// All shopper env vars use SHOPPER_ prefix for namespace isolation.
func (c *ShopperConfig) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SHOPPER_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "SHOPPER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "SHOPPER_ADMIN_METRICS_API_KEY")

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Merchant endpoint
	setIfEnv(&c.Merchant.BaseURL, "SHOPPER_MERCHANT_URL")
	setDurationIfEnv(&c.Merchant.Timeout, "SHOPPER_OUTBOUND_TIMEOUT")
	setDurationIfEnv(&c.Merchant.DiscoveryCacheTTL, "SHOPPER_DISCOVERY_CACHE_TTL")

	// Credentials provider
	setIfEnv(&c.Credentials.PANKey, "SHOPPER_PAN_KEY")
	setIfEnv(&c.Credentials.Origin, "SHOPPER_ORIGIN")

	// Network tokenization
	setBoolIfEnv(&c.Tokenization.Enabled, "SHOPPER_TOKENIZATION_ENABLED")
	setBoolIfEnv(&c.Tokenization.Sandbox, "SHOPPER_TOKENIZATION_SANDBOX")
	setIfEnv(&c.Tokenization.BaseURL, "SHOPPER_TOKENIZATION_BASE_URL")
	setIfEnv(&c.Tokenization.ConsumerKey, "SHOPPER_TOKENIZATION_CONSUMER_KEY")
	setIfEnv(&c.Tokenization.SigningKeyPath, "SHOPPER_TOKENIZATION_SIGNING_KEY_PATH")
	setDurationIfEnv(&c.Tokenization.Timeout, "SHOPPER_TOKENIZATION_TIMEOUT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setFloatIfEnv sets a float64 pointer from an environment variable.
func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
