package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides application metrics collection
type Collector struct {
	registry *prometheus.Registry

	// Weather API Metrics
	FetchAttemptsTotal *prometheus.CounterVec
	FetchErrorsTotal   *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	BreakerState       *prometheus.GaugeVec

	// Pipeline Metrics
	StageDuration             *prometheus.HistogramVec
	RunsTotal                 *prometheus.CounterVec
	CitiesTotal               *prometheus.CounterVec
	RowsPersistedTotal        *prometheus.CounterVec
	ValidationViolationsTotal prometheus.Counter
	AnomaliesFlagged          prometheus.Gauge
	LastRunTimestamp          prometheus.Gauge
	SamplesTotal              *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec
}

// NewCollector creates a new metrics collector backed by its own registry
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		FetchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Weather API request attempts by outcome (success, retry, fatal)",
			},
			[]string{"outcome"},
		),

		FetchErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Terminal weather API failures by error kind",
			},
			[]string{"kind"},
		),

		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of a single weather API request in seconds",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by final state",
			},
			[]string{"state"},
		),

		CitiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cities_total",
				Help:      "Cities processed during extraction by status",
			},
			[]string{"status"},
		),

		RowsPersistedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_persisted_total",
				Help:      "Weather rows written by sink target",
			},
			[]string{"target"},
		),

		ValidationViolationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_violations_total",
				Help:      "Data-quality violations reported by the validation gate",
			},
		),

		AnomaliesFlagged: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "temperature_anomalies",
				Help:      "Rows flagged as temperature anomalies in the last run",
			},
		),

		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last finished pipeline run",
			},
		),

		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "historical_samples_total",
				Help:      "Historical samples by status",
			},
			[]string{"status"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Registry returns the registry all collector metrics are registered on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordFetchAttempt increments the attempt counter for an outcome
func (c *Collector) RecordFetchAttempt(outcome string) {
	c.FetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetchError increments the terminal fetch error counter
func (c *Collector) RecordFetchError(kind string) {
	c.FetchErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordStage observes a stage duration
func (c *Collector) RecordStage(stage string, d time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun increments the run counter for a final state
func (c *Collector) RecordRun(state string, finishedAt time.Time) {
	c.RunsTotal.WithLabelValues(state).Inc()
	c.LastRunTimestamp.Set(float64(finishedAt.Unix()))
}

// RecordCity increments the extraction counter for succeeded/failed cities
func (c *Collector) RecordCity(status string) {
	c.CitiesTotal.WithLabelValues(status).Inc()
}

// RecordRowsPersisted adds rows written by a sink target
func (c *Collector) RecordRowsPersisted(target string, rows int) {
	c.RowsPersistedTotal.WithLabelValues(target).Add(float64(rows))
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetBreakerState records a circuit breaker state transition
func (c *Collector) SetBreakerState(name string, state float64) {
	c.BreakerState.WithLabelValues(name).Set(state)
}
