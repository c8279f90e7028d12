package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsExponentiallyWithoutJitter(t *testing.T) {
	cfg := &Config{Base: time.Second, Max: 30 * time.Second, Jitter: 0}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		if got := cfg.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelayClampsAttemptFloor(t *testing.T) {
	cfg := &Config{Base: time.Second, Jitter: 0}
	if got := cfg.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
	if got := cfg.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want 1s", got)
	}
}

func TestDelayJitterAddsAtMostConfiguredFraction(t *testing.T) {
	cfg := &Config{Base: time.Second, Max: 30 * time.Second, Jitter: 0.25, randFloat: func() float64 { return 1.0 }}
	if got := cfg.Delay(1); got != 1250*time.Millisecond {
		t.Errorf("Delay(1) with full jitter = %v, want 1.25s", got)
	}

	cfg.randFloat = func() float64 { return 0 }
	if got := cfg.Delay(1); got != time.Second {
		t.Errorf("Delay(1) with zero jitter draw = %v, want 1s", got)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("7", now)
	if !ok || d != 7*time.Second {
		t.Errorf("ParseRetryAfter(7) = %v %v, want 7s true", d, ok)
	}

	// Negative seconds clamp to zero.
	d, ok = ParseRetryAfter("-3", now)
	if !ok || d != 0 {
		t.Errorf("ParseRetryAfter(-3) = %v %v, want 0 true", d, ok)
	}

	// Oversized delays honor the cap.
	d, ok = ParseRetryAfter("3600", now)
	if !ok || d != RetryAfterCap {
		t.Errorf("ParseRetryAfter(3600) = %v %v, want cap", d, ok)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("Wed, 11 Feb 2026 00:00:03 GMT", now)
	if !ok || d != 3*time.Second {
		t.Errorf("ParseRetryAfter(date) = %v %v, want 3s true", d, ok)
	}

	// Past dates mean retry now.
	d, ok = ParseRetryAfter("Tue, 10 Feb 2026 23:59:59 GMT", now)
	if !ok || d != 0 {
		t.Errorf("ParseRetryAfter(past date) = %v %v, want 0 true", d, ok)
	}
}

func TestParseRetryAfterRejectsGarbage(t *testing.T) {
	now := time.Now()
	if _, ok := ParseRetryAfter("", now); ok {
		t.Error("ParseRetryAfter(empty) reported usable")
	}
	if _, ok := ParseRetryAfter("not-a-date", now); ok {
		t.Error("ParseRetryAfter(garbage) reported usable")
	}
}
