package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep defaults.
func FromRetryConfig(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
// A zero threshold disables circuit breaking and returns false.
func FromCircuitConfig(failureThreshold int, resetTimeout time.Duration) (CircuitBreakerConfig, bool) {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold <= 0 {
		return cfg, false
	}
	cfg.FailureThreshold = failureThreshold
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg, true
}
