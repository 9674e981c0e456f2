package resilience

import (
	"math"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds how often and how patiently a failed call is repeated.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy configures the circuit breaker kept per operation name.
// The breaker trips once at least MinRequests calls were seen in the current
// window and the failure share reaches FailureRatio.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

// SingleAttempt returns c with retries disabled. The circuit breaker still
// applies. OCR uploads use it: a retried upload would restart the
// per-document progress.
func (c Config) SingleAttempt() Config {
	c.Retry.MaxAttempts = 1
	return c
}

// backoff is the wait after the given failed attempt (1-based), growing
// geometrically up to MaxBackoff.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if wait > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(wait)
}

func (p BreakerPolicy) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests == 0 || counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

// normalize replaces unset or out-of-range values with the defaults. The
// breaker's Enabled flag is taken as given.
func (c Config) normalize() Config {
	def := DefaultConfig()
	r, b := c.Retry, c.Breaker

	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.Retry.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = def.Retry.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = def.Retry.MaxBackoff
	}
	r.MaxBackoff = max(r.MaxBackoff, r.InitialBackoff)
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}

	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.Breaker.OpenTimeout
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}
	return Config{Retry: r, Breaker: b}
}
