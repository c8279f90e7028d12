// Package metrics provides metrics collection and reporting for the SDK.
// It includes a collection interface and a Prometheus-compatible
// implementation.
package metrics

import (
	"net/http"
	"sync"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface for collecting and reporting metrics.
// Implement this interface to use custom metrics backends (Prometheus, StatsD, etc.).
type Collector interface {
	// Counter operations
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	// Gauge operations
	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	// Histogram operations
	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for metrics endpoint
	Handler() http.Handler

	// Reset clears all metrics (for testing)
	Reset()
}

// =============================================================================
// Metric Types
// =============================================================================

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"` // For histograms
}

// =============================================================================
// Default Metrics - Standard metrics for the client
// =============================================================================

var (
	// HTTP request metrics
	RequestsTotal = MetricDefinition{
		Name:   "easm_requests_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of API requests made",
		Labels: []string{"method", "plane", "status"},
	}
	RequestDuration = MetricDefinition{
		Name:    "easm_request_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of API requests in seconds",
		Labels:  []string{"method", "plane"},
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}
	RetriesTotal = MetricDefinition{
		Name:   "easm_retries_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of request retries",
		Labels: []string{"reason"},
	}

	// Token metrics
	TokenRefreshesTotal = MetricDefinition{
		Name:   "easm_token_refreshes_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of token refreshes",
		Labels: []string{"plane", "status"},
	}

	// Pagination metrics
	PagesTotal = MetricDefinition{
		Name:   "easm_pages_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of result pages fetched",
		Labels: []string{"mode"},
	}
	AssetsTotal = MetricDefinition{
		Name: "easm_assets_total",
		Type: MetricTypeCounter,
		Help: "Total number of assets emitted",
	}
	PagesInFlight = MetricDefinition{
		Name: "easm_pages_in_flight",
		Type: MetricTypeGauge,
		Help: "Number of page fetches currently in flight",
	}

	// Task metrics
	TaskPollsTotal = MetricDefinition{
		Name:   "easm_task_polls_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of task state polls",
		Labels: []string{"state"},
	}
	TaskWaitDuration = MetricDefinition{
		Name:    "easm_task_wait_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Time spent waiting for tasks to reach a terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}
)

// =============================================================================
// NopCollector - No-operation implementation
// =============================================================================

// NopCollector is a no-op metrics collector that discards all metrics.
// Use this when metrics are not needed.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) GaugeInc(name string, labels ...string)                        {}
func (c *NopCollector) GaugeDec(name string, labels ...string)                        {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }
func (c *NopCollector) Reset()                                                        {}

// =============================================================================
// InMemoryCollector - Simple in-memory implementation for testing
// =============================================================================

// InMemoryCollector stores metrics in memory for testing purposes.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i < len(labels); i += 2 {
		if i+1 < len(labels) {
			key += "," + labels[i] + "=" + labels[i+1]
		}
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// CounterValue returns the current value of a counter (for testing).
func (c *InMemoryCollector) CounterValue(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GaugeValue returns the current value of a gauge (for testing).
func (c *InMemoryCollector) GaugeValue(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// HistogramValues returns the observed values of a histogram (for testing).
func (c *InMemoryCollector) HistogramValues(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
