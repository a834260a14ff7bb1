// Package metrics provides Prometheus metrics for the journal service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	DeadmanRunsTotal     *prometheus.CounterVec
	DeadmanNotifications *prometheus.CounterVec
	DeadmanStage         prometheus.Gauge
	EntriesCreatedTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diario_http_requests_total",
				Help: "Total HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "diario_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DeadmanRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diario_deadman_runs_total",
				Help: "Dead man's switch notifier runs by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		DeadmanNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diario_deadman_notifications_total",
				Help: "Dead man's switch emails by stage and result.",
			},
			[]string{"stage", "result"},
		),
		DeadmanStage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "diario_deadman_stage",
				Help: "Escalation stage computed by the last notifier run.",
			},
		),
		EntriesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diario_entries_created_total",
				Help: "Journal entries created by kind.",
			},
			[]string{"kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.DeadmanRunsTotal)
	reg.MustRegister(m.DeadmanNotifications)
	reg.MustRegister(m.DeadmanStage)
	reg.MustRegister(m.EntriesCreatedTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry (for testing).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordRun increments the notifier run counter.
func (m *Metrics) RecordRun(mode, outcome string) {
	m.DeadmanRunsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordNotification counts a notification attempt. Stage 0 is the binary
// policy's single notice.
func (m *Metrics) RecordNotification(stage int, result string) {
	m.DeadmanNotifications.WithLabelValues(strconv.Itoa(stage), result).Inc()
}

// SetStage sets the current escalation stage.
func (m *Metrics) SetStage(stage int) {
	m.DeadmanStage.Set(float64(stage))
}

// RecordEntry increments the created entries counter.
func (m *Metrics) RecordEntry(kind string) {
	m.EntriesCreatedTotal.WithLabelValues(kind).Inc()
}
