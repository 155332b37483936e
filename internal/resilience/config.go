package resilience

import "time"

// RetryFromConfig builds a retry policy from configured attempts and
// backoff bounds. Zero values keep the defaults.
func RetryFromConfig(attempts int, initial, maxBackoff time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	if initial > 0 {
		cfg.InitialBackoff = initial
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return cfg
}

// BreakerFromConfig builds breaker settings. Only transient failures trip
// the breaker.
func BreakerFromConfig(threshold int, reset time.Duration) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if threshold > 0 {
		cfg.FailureThreshold = threshold
	}
	if reset > 0 {
		cfg.ResetTimeout = reset
	}
	cfg.ShouldTrip = IsTransient
	return cfg
}
