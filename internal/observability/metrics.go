package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sla_service"

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	ticketsScanned prometheus.Gauge
	alerts         *prometheus.CounterVec
	breaches       *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	skippedTicks   *prometheus.CounterVec
	policyReloads  *prometheus.CounterVec
	policyVersion  prometheus.Gauge
}

// NewMetrics registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_errors_total",
			Help: "HTTP errors by route and error code.",
		}, []string{"path", "method", "code"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evaluation_cycles_total",
			Help: "Evaluation cycles by outcome.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "evaluation_cycle_duration_seconds",
			Help:    "Wall time of evaluation cycles.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ticketsScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "evaluation_tickets_processed",
			Help: "Tickets processed by the last successful cycle.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_created_total",
			Help: "SLA alerts created by type and dimension.",
		}, []string{"type", "dimension"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "breaches_detected_total",
			Help: "SLA breaches detected by dimension.",
		}, []string{"dimension"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "escalations_total",
			Help: "Escalation level increases by new level.",
		}, []string{"level"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification dispatch outcomes.",
		}, []string{"outcome"}),
		skippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_skipped_ticks_total",
			Help: "Scheduler ticks skipped because a cycle was already running.",
		}, []string{"reason"}),
		policyReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "policy_reloads_total",
			Help: "SLA policy reload attempts by outcome.",
		}, []string{"result"}),
		policyVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "policy_version",
			Help: "Version of the active SLA policy.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.cycles, m.cycleDuration, m.ticketsScanned,
		m.alerts, m.breaches, m.escalations, m.notifications,
		m.skippedTicks, m.policyReloads, m.policyVersion,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// CycleCompleted records one evaluation cycle.
func (m *Metrics) CycleCompleted(ok bool, duration time.Duration, processed int) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if ok {
		m.ticketsScanned.Set(float64(processed))
	}
}

// AlertCreated counts a committed alert.
func (m *Metrics) AlertCreated(alertType, dimension string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType, dimension).Inc()
}

// BreachDetected counts a committed breach transition.
func (m *Metrics) BreachDetected(dimension string) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(dimension).Inc()
}

// EscalationRaised counts a committed escalation increase.
func (m *Metrics) EscalationRaised(level int) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(strconv.Itoa(level)).Inc()
}

// NotificationDispatched counts sent, failed and skipped notifications.
func (m *Metrics) NotificationDispatched(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// TickSkipped counts scheduler ticks that did not start a cycle.
func (m *Metrics) TickSkipped(reason string) {
	if m == nil {
		return
	}
	m.skippedTicks.WithLabelValues(reason).Inc()
}

// PolicyReloaded records a reload outcome and the active version.
func (m *Metrics) PolicyReloaded(accepted bool, version int) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.policyReloads.WithLabelValues(result).Inc()
	m.policyVersion.Set(float64(version))
}

// RegisterPgxPool exposes pgx pool statistics as gauges.
func (m *Metrics) RegisterPgxPool(pool *pgxpool.Pool) {
	if m == nil || pool == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pgxpool_acquired_conns",
			Help: "Number of currently acquired connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pgxpool_total_conns",
			Help: "Total number of connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().TotalConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pgxpool_idle_conns",
			Help: "Number of idle connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().IdleConns())
		}),
	)
}

// NewServer creates an HTTP server serving /metrics and /healthz.
func NewServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
