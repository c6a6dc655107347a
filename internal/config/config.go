package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadMerchant reads merchant service configuration from a YAML file and
// applies environment overrides.
func LoadMerchant(path string) (*MerchantConfig, error) {
	cfg := defaultMerchantConfig()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadShopper reads shopper service configuration from a YAML file and
// applies environment overrides.
func LoadShopper(path string) (*ShopperConfig, error) {
	cfg := defaultShopperConfig()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultMerchantConfig returns a MerchantConfig with sensible defaults.
func defaultMerchantConfig() *MerchantConfig {
	return &MerchantConfig{
		Server: ServerConfig{
			Address:      ":8453",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Merchant: MerchantInfo{
			ID:   "merchant-001",
			Name: "Enhanced Business Store",
			URL:  "http://localhost:8453",
		},
		Checkout: CheckoutConfig{
			SessionTTL:      Duration{Duration: 5 * time.Minute},
			CleanupInterval: Duration{Duration: 30 * time.Second},
		},
		Payments: PaymentsConfig{
			StepUp: StepUpConfig{
				Enabled:         true,
				AmountThreshold: 100.0,
				LowProbability:  0.10,
				HighProbability: 0.30,
			},
			OTP: OTPConfig{
				DemoMode:    true,
				DemoCode:    "123456",
				TTL:         Duration{Duration: 5 * time.Minute},
				MaxAttempts: 3,
			},
			Signer: SignerConfig{
				Timeout: Duration{Duration: 5 * time.Second},
			},
		},
		Products: ProductsConfig{
			Currency: "SGD",
			Catalog:  map[string]ProductSeed{}, // finalize seeds the demo catalog when left empty
		},
		Promocodes: PromocodesConfig{
			Codes: map[string]PromocodeSeed{},
		},
		RequestLog: RequestLogConfig{
			Backend:   "memory",
			Capacity:  1000,
			QueueSize: 256,
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Signer: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// defaultShopperConfig returns a ShopperConfig with sensible defaults.
func defaultShopperConfig() *ShopperConfig {
	return &ShopperConfig{
		Server: ServerConfig{
			Address:      ":8452",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Merchant: MerchantEndpoint{
			BaseURL:           "http://localhost:8453",
			DiscoveryCacheTTL: Duration{Duration: 5 * time.Minute},
			Timeout:           Duration{Duration: 30 * time.Second},
			RetryAttempts:     3,
			RetryBackoff:      Duration{Duration: 2 * time.Second},
		},
		Credentials: CredentialsConfig{
			Origin: "http://localhost:8452",
		},
		Tokenization: TokenizationConfig{
			Enabled: false,
			Sandbox: true,
			Timeout: Duration{Duration: 30 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Tokenization: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func parseFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
