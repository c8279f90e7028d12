// Package health runs preflight checks before an export or bulk
// operation: credentials present, tokens obtainable, workspaces
// reachable, enough disk for the output. The Doctor aggregates check
// results into a single report.
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Status is a check outcome.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult holds the result of one check.
type CheckResult struct {
	// Status is the check outcome.
	Status Status `json:"status"`

	// Message provides additional details.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms"`

	// Error is the failure description, if any.
	Error string `json:"error,omitempty"`

	// Metadata holds check-specific data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker is the interface for preflight checks.
type Checker interface {
	// Name returns the check name.
	Name() string

	// Check performs the check.
	Check(ctx context.Context) CheckResult
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (f CheckFunc) Name() string                          { return f.CheckName }
func (f CheckFunc) Check(ctx context.Context) CheckResult { return f.Fn(ctx) }

// Report is the aggregated outcome of a Doctor run.
type Report struct {
	// Status is the overall outcome: unhealthy if any check is
	// unhealthy, degraded if any check is degraded, healthy otherwise.
	Status Status `json:"status"`

	// Timestamp is when the run started.
	Timestamp time.Time `json:"timestamp"`

	// Checks contains individual results keyed by check name.
	Checks map[string]CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Doctor runs a set of preflight checks.
type Doctor struct {
	checks  []Checker
	timeout time.Duration
}

// DoctorOption configures the Doctor.
type DoctorOption func(*Doctor)

// WithTimeout bounds each individual check. Default 10s.
func WithTimeout(timeout time.Duration) DoctorOption {
	return func(d *Doctor) { d.timeout = timeout }
}

// NewDoctor creates a Doctor with the given checks.
func NewDoctor(checks []Checker, opts ...DoctorOption) *Doctor {
	d := &Doctor{
		checks:  checks,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register appends a check.
func (d *Doctor) Register(c Checker) {
	d.checks = append(d.checks, c)
}

// Run executes every check in order and aggregates the results.
func (d *Doctor) Run(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(d.checks)),
	}

	for _, check := range d.checks {
		checkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		start := time.Now()
		result := check.Check(checkCtx)
		cancel()
		result.Duration = time.Since(start)

		report.Checks[check.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// EnvCheck verifies required and recommended environment variables.
// Missing required variables are unhealthy; missing recommended ones
// only degrade the result.
type EnvCheck struct {
	Required    []string
	Recommended []string
}

func (c *EnvCheck) Name() string { return "environment" }

func (c *EnvCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Status: StatusHealthy, Metadata: make(map[string]any)}

	var missing, recommended []string
	for _, key := range c.Required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	for _, key := range c.Recommended {
		if os.Getenv(key) == "" {
			recommended = append(recommended, key)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("missing required environment variables: %v", missing)
		result.Metadata["missing"] = missing
		return result
	}
	if len(recommended) > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("recommended environment variables not set: %v", recommended)
		result.Metadata["recommended"] = recommended
		return result
	}
	result.Message = "all environment variables present"
	return result
}

// HTTPCheck verifies an endpoint answers at all. Any response counts;
// only transport failures are unhealthy.
type HTTPCheck struct {
	CheckName string
	URL       string
	Client    *http.Client
}

func (c *HTTPCheck) Name() string {
	if c.CheckName != "" {
		return c.CheckName
	}
	return "http"
}

func (c *HTTPCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("endpoint unreachable: %v", err)
		return result
	}
	resp.Body.Close()

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("endpoint answered with status %d", resp.StatusCode)
	result.Metadata["status_code"] = resp.StatusCode
	return result
}

// TokenSource is the part of the token manager the TokenCheck needs.
type TokenSource interface {
	Probe(ctx context.Context) error
}

// TokenCheck verifies tokens can be acquired for both planes.
type TokenCheck struct {
	Source TokenSource
}

func (c *TokenCheck) Name() string { return "tokens" }

func (c *TokenCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{}
	if c.Source == nil {
		result.Status = StatusUnhealthy
		result.Error = "no token source configured"
		return result
	}
	if err := c.Source.Probe(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("token acquisition failed: %v", err)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "tokens acquired for both planes"
	return result
}
