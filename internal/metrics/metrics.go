// Package metrics provides monitoring and metrics collection for deepfocus.
// It supports counters, gauges, and histograms with label support for
// tracking scan throughput, probe outcomes and governor behavior.
package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value++
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeCounter,
			Value:     1,
			Labels:    labels,
			Timestamp: time.Now(),
		}
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		// Simple histogram implementation - just track last value
		metric.Value = value
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeHistogram,
			Value:     value,
			Labels:    labels,
			Timestamp: time.Now(),
		}
	}
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric)
	for key, metric := range r.metrics {
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and labels.
func (r *Registry) makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	key := name
	for k, v := range labels {
		key += ":" + k + "=" + v
	}
	return key
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// SetDefault sets the default metrics registry.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	defaultRegistry.Counter(name, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	defaultRegistry.Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// GetMetrics returns all metrics from the default registry.
func GetMetrics() map[string]*Metric {
	return defaultRegistry.GetMetrics()
}

// Reset clears all metrics from the default registry.
func Reset() {
	defaultRegistry.Reset()
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start  time.Time
	name   string
	labels Labels
}

// NewTimer creates a new timer for measuring execution time.
func NewTimer(name string, labels Labels) *Timer {
	return &Timer{
		start:  time.Now(),
		name:   name,
		labels: labels,
	}
}

// Stop stops the timer and records the duration as a histogram.
func (t *Timer) Stop() {
	duration := time.Since(t.start)
	Histogram(t.name, duration.Seconds(), t.labels)
}

// Predefined metric names for common operations.
const (
	// Probe metrics.
	MetricProbeDuration = "probe_duration_seconds"
	MetricProbesTotal   = "probes_total"
	MetricProbeErrors   = "probe_errors_total"
	MetricProbeRetries  = "probe_retries_total"

	// Session metrics.
	MetricTargetsTotal     = "targets_total"
	MetricTargetsCompleted = "targets_completed_total"
	MetricServicesFound    = "services_found_total"

	// Governor metrics.
	MetricGovernorLoad        = "governor_load"
	MetricGovernorConcurrency = "governor_effective_concurrency"
	MetricGovernorTransitions = "governor_transitions_total"

	// Store metrics.
	MetricStoreUpserts  = "store_upserts_total"
	MetricStoreErrors   = "store_errors_total"
	MetricStoreDuration = "store_query_duration_seconds"
)

// Common label keys.
const (
	LabelProtocol  = "protocol"
	LabelTarget    = "target"
	LabelStatus    = "status"
	LabelPhase     = "phase"
	LabelOperation = "operation"
	LabelError     = "error"
	LabelComponent = "component"
)

// Helper functions for common metrics

// RecordProbeDuration records the duration of one probe.
func RecordProbeDuration(protocol string, duration time.Duration) {
	Histogram(MetricProbeDuration, duration.Seconds(), Labels{
		LabelProtocol: protocol,
	})
}

// IncrementProbesTotal increments the probe counter by protocol and outcome.
func IncrementProbesTotal(protocol, status string) {
	Counter(MetricProbesTotal, Labels{
		LabelProtocol: protocol,
		LabelStatus:   status,
	})
}

// IncrementProbeErrors increments the probe error counter.
func IncrementProbeErrors(protocol, errorType string) {
	Counter(MetricProbeErrors, Labels{
		LabelProtocol: protocol,
		LabelError:    errorType,
	})
}

// SetGovernorState records the governor's current load and concurrency.
func SetGovernorState(phase string, load float64, concurrency int) {
	Gauge(MetricGovernorLoad, load, Labels{LabelPhase: phase})
	Gauge(MetricGovernorConcurrency, float64(concurrency), Labels{LabelPhase: phase})
}

// IncrementGovernorTransitions counts state machine transitions.
func IncrementGovernorTransitions(from, to string) {
	Counter(MetricGovernorTransitions, Labels{
		"from": from,
		"to":   to,
	})
}

// RecordStoreQuery records result store operation metrics.
func RecordStoreQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	Counter(MetricStoreUpserts, Labels{
		LabelOperation: operation,
		LabelStatus:    status,
	})

	Histogram(MetricStoreDuration, duration.Seconds(), Labels{
		LabelOperation: operation,
	})
}
