// Package backoff implements the retry delay policy for API requests:
// exponential growth with a hard cap, proportional jitter, and support
// for server-directed delays via the Retry-After header.
package backoff

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultBase is the first-attempt delay.
	DefaultBase = 1 * time.Second

	// DefaultMax caps the computed exponential delay.
	DefaultMax = 30 * time.Second

	// DefaultJitter adds up to 25% on top of the computed delay.
	DefaultJitter = 0.25

	// RetryAfterCap bounds how long a server-directed delay is honored.
	RetryAfterCap = 60 * time.Second
)

// Config configures the backoff behavior.
type Config struct {
	// Base is the delay for the first retry. Default 1s.
	Base time.Duration

	// Max caps the exponential delay before jitter. Default 30s.
	Max time.Duration

	// Jitter is the maximum proportional increase added to the delay,
	// in [0, 1]. Default 0.25.
	Jitter float64

	// rand source override for tests.
	randFloat func() float64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Base:   DefaultBase,
		Max:    DefaultMax,
		Jitter: DefaultJitter,
	}
}

// Delay returns the sleep before retry attempt n (1-based):
// base * 2^(n-1), capped at Max, plus up to Jitter proportional noise.
func (c *Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := c.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := c.Max
	if max <= 0 {
		max = DefaultMax
	}

	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max || d <= 0 {
		d = max
	}

	jitter := c.Jitter
	if jitter > 0 {
		if jitter > 1 {
			jitter = 1
		}
		rnd := c.randFloat
		if rnd == nil {
			rnd = rand.Float64
		}
		d += time.Duration(float64(d) * jitter * rnd())
	}
	return d
}

// ParseRetryAfter parses a Retry-After header value: either a delay in
// seconds or an HTTP-date (RFC 7231). It returns the delay and whether
// the value was usable. Past dates yield a zero delay; the returned
// delay is capped at RetryAfterCap.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		d := time.Duration(secs) * time.Second
		if d > RetryAfterCap {
			d = RetryAfterCap
		}
		return d, true
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	if d > RetryAfterCap {
		d = RetryAfterCap
	}
	return d, true
}
