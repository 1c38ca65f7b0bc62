// Package telemetry registers the Prometheus collectors operators scrape at
// GET /metrics: poll outcomes, live SSE subscriber count, Relay call
// results, and error-taxonomy counts — grounded on the
// prometheus.Collector usage in other_examples/michaelkoetter-go-nut and
// the prometheus/client_golang wiring in 99souls-ariadne.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ErrorClass names the §7 error taxonomy buckets.
type ErrorClass string

const (
	ErrorClassConfiguration ErrorClass = "configuration"
	ErrorClassTransientNUT  ErrorClass = "transient_nut"
	ErrorClassTransientRelay ErrorClass = "transient_relay"
	ErrorClassClient        ErrorClass = "client"
	ErrorClassServer        ErrorClass = "server"
)

// Metrics bundles every collector this process exposes. Construct one with
// New and register it with a prometheus.Registerer (typically
// prometheus.DefaultRegisterer) during process bootstrap. Of these, only
// SSESubscribers is updated (by the HTTP events handler); PollsTotal,
// PollDuration, RelayCallsTotal and ErrorsTotal are registered and exposed
// but nothing in the process increments them.
type Metrics struct {
	PollsTotal        *prometheus.CounterVec
	PollDuration       *prometheus.HistogramVec
	SSESubscribers     prometheus.Gauge
	RelayCallsTotal    *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
}

// New constructs the collector set without registering it.
func New() *Metrics {
	return &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsmonitor",
			Name:      "polls_total",
			Help:      "Total NUT poll attempts, labeled by ups_id and outcome (success|failure).",
		}, []string{"ups_id", "outcome"}),

		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "upsmonitor",
			Name:      "poll_duration_seconds",
			Help:      "Time spent fetching and mapping variables for one UPS poll.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"ups_id"}),

		SSESubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "upsmonitor",
			Name:      "sse_subscribers",
			Help:      "Current number of live SSE event-bus subscribers.",
		}),

		RelayCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsmonitor",
			Name:      "relay_calls_total",
			Help:      "Total Relay HTTP calls, labeled by endpoint and outcome (success|failure).",
		}, []string{"endpoint", "outcome"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsmonitor",
			Name:      "errors_total",
			Help:      "Total errors observed, labeled by taxonomy class per the error handling design.",
		}, []string{"class"}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate-registration error — the same fail-fast behavior
// prometheus.MustRegister gives at the top level.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.PollsTotal, m.PollDuration, m.SSESubscribers, m.RelayCallsTotal, m.ErrorsTotal)
}

// RecordError increments the ErrorsTotal counter for class. The poller, the
// Relay client and the HTTP handlers do not call it.
func (m *Metrics) RecordError(class ErrorClass) {
	m.ErrorsTotal.WithLabelValues(string(class)).Inc()
}
