package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/AgentCommerce/ucp/internal/config"
)

// ServiceType identifies an external dependency guarded by its own
// circuit breaker. Breakers are isolated per service so a degraded
// signing service cannot trip calls to the tokenization provider.
type ServiceType string

const (
	// ServiceSigner guards calls to the remote receipt-signing service.
	ServiceSigner ServiceType = "receipt_signer"

	// ServiceTokenization guards calls to the card network tokenization API.
	ServiceTokenization ServiceType = "network_tokenization"
)

// Manager holds one circuit breaker per external service.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	// Global enable/disable toggle
	Enabled bool

	// Remote receipt signer circuit breaker config
	Signer BreakerConfig

	// Network tokenization circuit breaker config
	Tokenization BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// Trip thresholds: the breaker opens after ConsecutiveFailures in a
	// row, or when the failure ratio over at least MinRequests requests
	// reaches FailureRatio.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, log zerolog.Logger) *Manager {
	return NewManager(Config{
		Enabled: cfg.Enabled,
		Signer: BreakerConfig{
			MaxRequests:         cfg.Signer.MaxRequests,
			Interval:            cfg.Signer.Interval.Duration,
			Timeout:             cfg.Signer.Timeout.Duration,
			ConsecutiveFailures: cfg.Signer.ConsecutiveFailures,
			FailureRatio:        cfg.Signer.FailureRatio,
			MinRequests:         cfg.Signer.MinRequests,
		},
		Tokenization: BreakerConfig{
			MaxRequests:         cfg.Tokenization.MaxRequests,
			Interval:            cfg.Tokenization.Interval.Duration,
			Timeout:             cfg.Tokenization.Timeout.Duration,
			ConsecutiveFailures: cfg.Tokenization.ConsecutiveFailures,
			FailureRatio:        cfg.Tokenization.FailureRatio,
			MinRequests:         cfg.Tokenization.MinRequests,
		},
	}, log)
}

// NewManager creates a circuit breaker manager with the given configuration.
// When cfg.Enabled is false the manager has no breakers and every Execute
// call passes straight through.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceSigner] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceSigner), cfg.Signer, log))
	m.breakers[ServiceTokenization] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceTokenization), cfg.Tokenization, log))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breakers are disabled or none is configured for the service,
// the function executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled, "not_configured"
// if the service has no breaker.
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if m == nil || !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg BreakerConfig, log zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Signer: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Tokenization: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}
