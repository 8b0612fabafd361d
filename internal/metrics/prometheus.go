// Prometheus-based collectors for deepfocus. The lightweight registry in
// metrics.go stays the in-process source for the API status endpoints; these
// collectors expose the same signals on /metrics for scraping.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all deepfocus metrics
	namespace = "deepfocus"

	// Subsystems
	subsystemScan     = "scan"
	subsystemProbe    = "probe"
	subsystemGovernor = "governor"
	subsystemStore    = "store"
	subsystemAPI      = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	probeErrors   *prometheus.CounterVec
	probeRetries  *prometheus.CounterVec

	// Scan session metrics
	targetsTotal     prometheus.Gauge
	targetsCompleted prometheus.Counter
	servicesFound    *prometheus.CounterVec
	activeWorkers    prometheus.Gauge

	// Governor metrics
	governorLoad        prometheus.Gauge
	governorConcurrency prometheus.Gauge
	governorTransitions *prometheus.CounterVec
	governorPaused      prometheus.Gauge

	// Store metrics
	storeQueries       *prometheus.CounterVec
	storeQueryDuration *prometheus.HistogramVec
	storeRecords       prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initGovernorMetrics()
	pm.initStoreMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initProbeMetrics initializes probe-related metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probes performed by protocol and outcome",
		},
		[]string{"protocol", "status"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of individual probe operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"protocol"},
	)

	pm.probeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "errors_total",
			Help:      "Total number of probe errors by protocol and error code",
		},
		[]string{"protocol", "error_type"},
	)

	pm.probeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "retries_total",
			Help:      "Total number of probe retries by protocol",
		},
		[]string{"protocol"},
	)
}

// initScanMetrics initializes scan session metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.targetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "targets_total",
			Help:      "Total number of targets in the current scan session",
		},
	)

	pm.targetsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "targets_completed_total",
			Help:      "Total number of targets processed",
		},
	)

	pm.servicesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "services_found_total",
			Help:      "Total number of live services recorded by protocol",
		},
		[]string{"protocol"},
	)

	pm.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active_workers",
			Help:      "Number of in-flight probe workers",
		},
	)
}

// initGovernorMetrics initializes governor metrics
func (pm *PrometheusMetrics) initGovernorMetrics() {
	pm.governorLoad = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemGovernor,
			Name:      "load",
			Help:      "Last sampled normalized host load",
		},
	)

	pm.governorConcurrency = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemGovernor,
			Name:      "effective_concurrency",
			Help:      "Concurrency ceiling currently published by the governor",
		},
	)

	pm.governorTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGovernor,
			Name:      "transitions_total",
			Help:      "Governor state machine transitions",
		},
		[]string{"from", "to"},
	)

	pm.governorPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemGovernor,
			Name:      "paused",
			Help:      "1 while the governor holds the scan paused, else 0",
		},
	)
}

// initStoreMetrics initializes result store metrics
func (pm *PrometheusMetrics) initStoreMetrics() {
	pm.storeQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "queries_total",
			Help:      "Total number of store operations by type and status",
		},
		[]string{"operation", "status"},
	)

	pm.storeQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "query_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	pm.storeRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "records",
			Help:      "Number of scan records currently in the store",
		},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probesTotal)
	pm.registry.MustRegister(pm.probeDuration)
	pm.registry.MustRegister(pm.probeErrors)
	pm.registry.MustRegister(pm.probeRetries)

	pm.registry.MustRegister(pm.targetsTotal)
	pm.registry.MustRegister(pm.targetsCompleted)
	pm.registry.MustRegister(pm.servicesFound)
	pm.registry.MustRegister(pm.activeWorkers)

	pm.registry.MustRegister(pm.governorLoad)
	pm.registry.MustRegister(pm.governorConcurrency)
	pm.registry.MustRegister(pm.governorTransitions)
	pm.registry.MustRegister(pm.governorPaused)

	pm.registry.MustRegister(pm.storeQueries)
	pm.registry.MustRegister(pm.storeQueryDuration)
	pm.registry.MustRegister(pm.storeRecords)

	pm.registry.MustRegister(pm.httpRequests)
	pm.registry.MustRegister(pm.httpDuration)

	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for the HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Probe metrics methods

// IncrementProbesTotal increments the probe counter
func (pm *PrometheusMetrics) IncrementProbesTotal(protocol, status string) {
	pm.probesTotal.WithLabelValues(protocol, status).Inc()
}

// RecordProbeDuration records a probe duration
func (pm *PrometheusMetrics) RecordProbeDuration(protocol string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// IncrementProbeErrors increments the probe error counter
func (pm *PrometheusMetrics) IncrementProbeErrors(protocol, errorType string) {
	pm.probeErrors.WithLabelValues(protocol, errorType).Inc()
}

// IncrementProbeRetries increments the probe retry counter
func (pm *PrometheusMetrics) IncrementProbeRetries(protocol string) {
	pm.probeRetries.WithLabelValues(protocol).Inc()
}

// Scan session metrics methods

// SetTargetsTotal records the size of the current session
func (pm *PrometheusMetrics) SetTargetsTotal(count int) {
	pm.targetsTotal.Set(float64(count))
}

// IncrementTargetsCompleted increments the completed target counter
func (pm *PrometheusMetrics) IncrementTargetsCompleted() {
	pm.targetsCompleted.Inc()
}

// IncrementServicesFound increments the live service counter
func (pm *PrometheusMetrics) IncrementServicesFound(protocol string) {
	pm.servicesFound.WithLabelValues(protocol).Inc()
}

// SetActiveWorkers sets the number of in-flight workers
func (pm *PrometheusMetrics) SetActiveWorkers(count int) {
	pm.activeWorkers.Set(float64(count))
}

// Governor metrics methods

// SetGovernorLoad records the last sampled load
func (pm *PrometheusMetrics) SetGovernorLoad(load float64) {
	pm.governorLoad.Set(load)
}

// SetGovernorConcurrency records the published concurrency ceiling
func (pm *PrometheusMetrics) SetGovernorConcurrency(n int) {
	pm.governorConcurrency.Set(float64(n))
}

// IncrementGovernorTransitions counts a state transition
func (pm *PrometheusMetrics) IncrementGovernorTransitions(from, to string) {
	pm.governorTransitions.WithLabelValues(from, to).Inc()
}

// SetGovernorPaused marks the paused gauge
func (pm *PrometheusMetrics) SetGovernorPaused(paused bool) {
	if paused {
		pm.governorPaused.Set(1)
	} else {
		pm.governorPaused.Set(0)
	}
}

// Store metrics methods

// IncrementStoreQueries increments the store operation counter
func (pm *PrometheusMetrics) IncrementStoreQueries(operation, status string) {
	pm.storeQueries.WithLabelValues(operation, status).Inc()
}

// RecordStoreQueryDuration records store operation duration
func (pm *PrometheusMetrics) RecordStoreQueryDuration(operation string, duration time.Duration) {
	pm.storeQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetStoreRecords sets the store record gauge
func (pm *PrometheusMetrics) SetStoreRecords(count int) {
	pm.storeRecords.Set(float64(count))
}

// API metrics methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System metrics methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// StartPeriodicUpdates starts a goroutine that periodically updates system metrics
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
