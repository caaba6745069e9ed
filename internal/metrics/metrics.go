// Package metrics exposes the scheduler's Prometheus collectors,
// grounded on engine/monitoring.go's PrometheusExporter and trimmed down
// to the counters and gauges this control plane needs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turbosched"

// Collectors holds every metric the scheduler, alert handlers, and
// telescope client publish. Constructed once at startup and threaded
// through by reference, same as Config and Logger.
type Collectors struct {
	registry *prometheus.Registry

	CyclesTotal       *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	AlertsReceived    *prometheus.CounterVec
	AlertsRejected    *prometheus.CounterVec
	TargetsDispatched *prometheus.CounterVec
	TelescopeRequests *prometheus.CounterVec
	TelescopeFailures *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	TelescopesActive  prometheus.Gauge
}

// New builds the collector set and registers it against a fresh registry.
func New() *Collectors {
	registry := prometheus.NewRegistry()

	c := &Collectors{
		registry: registry,
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Number of main scheduler loop iterations completed.",
		}, []string{"telescope"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_cycle_duration_seconds",
			Help:      "Wall-clock duration of one scheduler loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"telescope"}),
		AlertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_received_total",
			Help:      "Alert schedules taken from the alert buffer by the scheduler, by source.",
		}, []string{"source"}),
		AlertsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Alerts rejected before publish, by source and reason.",
		}, []string{"source", "reason"}),
		TargetsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_dispatched_total",
			Help:      "Targets sent to a telescope controller.",
		}, []string{"telescope"}),
		TelescopeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telescope_requests_total",
			Help:      "HTTP requests issued to telescope controllers.",
		}, []string{"telescope", "endpoint"}),
		TelescopeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telescope_request_failures_total",
			Help:      "HTTP requests to telescope controllers that failed.",
		}, []string{"telescope", "endpoint", "kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Number of unexpired events currently held by the event store.",
		}, []string{"telescope"}),
		TelescopesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telescopes_active",
			Help:      "Telescopes currently in an active (non-parked, non-error) state.",
		}),
	}

	registry.MustRegister(
		c.CyclesTotal,
		c.CycleDuration,
		c.AlertsReceived,
		c.AlertsRejected,
		c.TargetsDispatched,
		c.TelescopeRequests,
		c.TelescopeFailures,
		c.QueueDepth,
		c.TelescopesActive,
	)

	return c
}

// Handler returns the HTTP handler serving this registry's metrics page.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
