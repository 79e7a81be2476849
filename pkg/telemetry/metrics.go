package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the agent on a private registry.
type Metrics struct {
	config MetricsConfig

	// Reconcile run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Plan unit metrics
	unitsExecuted *prometheus.CounterVec
	unitDuration  *prometheus.HistogramVec
	unitRetries   *prometheus.CounterVec

	// Resource metrics
	resourcesManaged *prometheus.GaugeVec
	orphansDetected  *prometheus.CounterVec

	// Gateway metrics
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns    prometheus.Gauge
	deferredUnits prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Reconcile run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_started_total",
				Help:      "Total number of reconcile runs started",
			},
			[]string{"trigger"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_completed_total",
				Help:      "Total number of reconcile runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_run_duration_seconds",
				Help:      "Duration of reconcile runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Plan unit metrics
		unitsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_units_executed_total",
				Help:      "Total number of plan units executed",
			},
			[]string{"operation", "status"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_unit_duration_seconds",
				Help:      "Duration of plan unit execution in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "kind"},
		),
		unitRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_unit_retries_total",
				Help:      "Total number of plan unit retry attempts",
			},
			[]string{"operation"},
		),

		// Resource metrics
		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Current number of managed resources",
			},
			[]string{"kind", "state"},
		),
		orphansDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_detected_total",
				Help:      "Total number of unclaimed engine objects detected",
			},
			[]string{"kind"},
		),

		// Gateway metrics
		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of container engine calls",
			},
			[]string{"operation"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of container engine calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Total number of container engine call errors",
			},
			[]string{"operation"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active reconcile runs",
			},
		),
		deferredUnits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deferred_units",
				Help:      "Removals deferred to a later run by live references",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.unitsExecuted,
		m.unitDuration,
		m.unitRetries,
		m.resourcesManaged,
		m.orphansDetected,
		m.gatewayCalls,
		m.gatewayDuration,
		m.gatewayErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.deferredUnits,
	)

	return m, nil
}

// Reconcile Run Metrics

// RecordRunStarted increments the counter for started reconcile runs.
func (m *Metrics) RecordRunStarted(trigger string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(trigger).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed reconcile run with its status and
// duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Plan Unit Metrics

// RecordUnitExecution records the execution of a plan unit.
func (m *Metrics) RecordUnitExecution(operation, status string, duration time.Duration, kind string) {
	if m.unitsExecuted == nil {
		return
	}
	m.unitsExecuted.WithLabelValues(operation, status).Inc()
	m.unitDuration.WithLabelValues(operation, kind).Observe(duration.Seconds())
}

// RecordUnitRetry records a retry attempt for a plan unit operation.
func (m *Metrics) RecordUnitRetry(operation string) {
	if m.unitRetries == nil {
		return
	}
	m.unitRetries.WithLabelValues(operation).Inc()
}

// Resource Metrics

// SetResourceCount sets the current count of managed resources.
func (m *Metrics) SetResourceCount(kind, state string, count float64) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(kind, state).Set(count)
}

// RecordOrphanDetected records an unclaimed engine object.
func (m *Metrics) RecordOrphanDetected(kind string) {
	if m.orphansDetected == nil {
		return
	}
	m.orphansDetected.WithLabelValues(kind).Inc()
}

// Gateway Metrics

// RecordGatewayCall records a container engine call with its duration.
func (m *Metrics) RecordGatewayCall(operation string, duration time.Duration) {
	if m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGatewayError records a container engine call error.
func (m *Metrics) RecordGatewayError(operation string) {
	if m.gatewayErrors == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// SetDeferredUnits sets the current number of deferred removals.
func (m *Metrics) SetDeferredUnits(count float64) {
	if m.deferredUnits == nil {
		return
	}
	m.deferredUnits.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
