// Package metrics holds all Prometheus metrics for the anomaly pipeline
// components.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics holds the counters/gauges/histograms shared by every
// component binary (anomalydetector, enricher, correlator, incidentwriter,
// remediationengine). Components that don't touch a given metric simply
// never call its Record*/Update* method.
type PipelineMetrics struct {
	AnomaliesDetectedTotal  *prometheus.CounterVec
	EventsEnrichedTotal     *prometheus.CounterVec
	IncidentsCreatedTotal   *prometheus.CounterVec
	RemediationExecsTotal   *prometheus.CounterVec
	ApprovalRequestsTotal   *prometheus.CounterVec
	BusPublishErrorsTotal   *prometheus.CounterVec
	DependencyHealth        *prometheus.GaugeVec

	ProcessingDuration *prometheus.HistogramVec
	DependencyCallDuration *prometheus.HistogramVec

	RetryAttemptsTotal *prometheus.CounterVec
	RetrySuccessTotal  *prometheus.CounterVec
}

var (
	instance     *PipelineMetrics
	instanceOnce sync.Once
)

// New creates and registers all Prometheus metrics. Uses a singleton to
// prevent duplicate registration when several components share a process
// (tests, local dev).
func New() *PipelineMetrics {
	instanceOnce.Do(func() {
		instance = create()
	})
	return instance
}

func create() *PipelineMetrics {
	m := &PipelineMetrics{
		AnomaliesDetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_anomalies_detected_total",
				Help: "Total number of anomaly events emitted by the detector",
			},
			[]string{"ship_id", "metric_name"},
		),
		EventsEnrichedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_events_enriched_total",
				Help: "Total number of anomaly events that passed through enrichment",
			},
			[]string{"ship_id", "outcome"},
		),
		IncidentsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_incidents_created_total",
				Help: "Total number of incidents written to the incident store",
			},
			[]string{"ship_id", "severity"},
		),
		RemediationExecsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_remediation_executions_total",
				Help: "Total number of remediation action executions",
			},
			[]string{"action_type", "outcome"},
		),
		ApprovalRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_approval_requests_total",
				Help: "Total number of remediation approval requests",
			},
			[]string{"outcome"},
		),
		BusPublishErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_bus_publish_errors_total",
				Help: "Total number of failures publishing to the event bus",
			},
			[]string{"topic"},
		),
		DependencyHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aiops_dependency_health",
				Help: "1 if the named external dependency answered its last probe, 0 otherwise",
			},
			[]string{"dependency"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aiops_processing_duration_seconds",
				Help:    "Time spent processing a unit of work end to end within a component",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		DependencyCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aiops_dependency_call_duration_seconds",
				Help:    "Time spent waiting on an external dependency call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dependency"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_retry_attempts_total",
				Help: "Total number of retry attempts for outbound dependency calls",
			},
			[]string{"operation", "attempt"},
		),
		RetrySuccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiops_retry_success_total",
				Help: "Total number of outbound dependency calls that succeeded after at least one retry",
			},
			[]string{"operation"},
		),
	}

	safeRegister(
		m.AnomaliesDetectedTotal,
		m.EventsEnrichedTotal,
		m.IncidentsCreatedTotal,
		m.RemediationExecsTotal,
		m.ApprovalRequestsTotal,
		m.BusPublishErrorsTotal,
		m.DependencyHealth,
		m.ProcessingDuration,
		m.DependencyCallDuration,
		m.RetryAttemptsTotal,
		m.RetrySuccessTotal,
	)

	return m
}

// safeRegister registers collectors, tolerating duplicate registration so
// components that share a process in tests don't panic.
func safeRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				continue
			}
		}
	}
}

func (m *PipelineMetrics) RecordAnomalyDetected(shipID, metricName string) {
	m.AnomaliesDetectedTotal.WithLabelValues(shipID, metricName).Inc()
}

func (m *PipelineMetrics) RecordEventEnriched(shipID, outcome string) {
	m.EventsEnrichedTotal.WithLabelValues(shipID, outcome).Inc()
}

func (m *PipelineMetrics) RecordIncidentCreated(shipID, severity string) {
	m.IncidentsCreatedTotal.WithLabelValues(shipID, severity).Inc()
}

func (m *PipelineMetrics) RecordRemediationExecution(actionType, outcome string) {
	m.RemediationExecsTotal.WithLabelValues(actionType, outcome).Inc()
}

func (m *PipelineMetrics) RecordApprovalRequest(outcome string) {
	m.ApprovalRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) RecordBusPublishError(topic string) {
	m.BusPublishErrorsTotal.WithLabelValues(topic).Inc()
}

func (m *PipelineMetrics) SetDependencyHealth(dependency string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.DependencyHealth.WithLabelValues(dependency).Set(v)
}

func (m *PipelineMetrics) RecordProcessingDuration(component string, d time.Duration) {
	m.ProcessingDuration.WithLabelValues(component).Observe(d.Seconds())
}

func (m *PipelineMetrics) RecordDependencyCall(dependency string, d time.Duration) {
	m.DependencyCallDuration.WithLabelValues(dependency).Observe(d.Seconds())
}

// RecordRetryAttempt records a retry attempt for an outbound call.
func (m *PipelineMetrics) RecordRetryAttempt(operation string, attemptNumber int) {
	m.RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attemptNumber)).Inc()
}

// RecordRetrySuccess records that a retried call eventually succeeded.
func (m *PipelineMetrics) RecordRetrySuccess(operation string) {
	m.RetrySuccessTotal.WithLabelValues(operation).Inc()
}

// StartServer serves /metrics on the given port until the process exits.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(":"+strconv.Itoa(port), mux)
}

// Timer measures an operation's elapsed duration.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }

func (t *Timer) ObserveDuration(o prometheus.Observer) { o.Observe(t.Duration().Seconds()) }
