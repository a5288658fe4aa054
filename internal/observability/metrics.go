// Package observability defines the Prometheus metrics exported by AgriAI.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agriai"

// Metrics holds the Prometheus counters, histograms, and gauges for message handling.
type Metrics struct {
	WebhookPayloads  *prometheus.CounterVec // labels: source={cloud,twilio}, outcome={accepted,malformed,ignored}
	InboundMessages  *prometheus.CounterVec // labels: kind
	Commands         *prometheus.CounterVec // labels: command={help,join,feedback,diagnose}
	DispatchInFlight prometheus.Gauge

	// Diagnosis metrics.
	Diagnoses         *prometheus.CounterVec // labels: method={ai,rule-based}
	DiagnosisDuration prometheus.Histogram
	DispatchErrors    *prometheus.CounterVec // labels: category
	WeatherLookups    *prometheus.CounterVec // labels: outcome={success,error}

	SendFailures prometheus.Counter

	// Record totals, refreshed periodically from the store.
	StoredUsers     prometheus.Gauge
	StoredDiagnoses prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		WebhookPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_payloads_total",
			Help:      "Inbound webhook payloads by source and outcome.",
		}, []string{"source", "outcome"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound chat messages dispatched, by message kind.",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Parsed text commands by type.",
		}, []string{"command"}),
		DispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Messages currently being dispatched.",
		}),
		Diagnoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Completed diagnoses by method.",
		}, []string{"method"}),
		DiagnosisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diagnosis_duration_seconds",
			Help:      "Duration of a diagnosis engine call, including any remote AI request.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 45},
		}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "User-visible dispatch failures by error category.",
		}, []string{"category"}),
		WeatherLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_lookups_total",
			Help:      "Weather lookups by outcome.",
		}, []string{"outcome"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound replies that were not delivered.",
		}),
		StoredUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_users",
			Help:      "Registered farmers at the last store refresh.",
		}),
		StoredDiagnoses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_diagnoses",
			Help:      "Saved diagnoses at the last store refresh.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WebhookPayloads,
		m.InboundMessages,
		m.Commands,
		m.DispatchInFlight,
		m.Diagnoses,
		m.DiagnosisDuration,
		m.DispatchErrors,
		m.WeatherLookups,
		m.SendFailures,
		m.StoredUsers,
		m.StoredDiagnoses,
	}
}

// New creates the metrics and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// NewMetricsForTesting creates Metrics registered on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return New(prometheus.NewRegistry())
}
