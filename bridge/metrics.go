package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded in bridge_calls_total.
const (
	outcomeSuccess   = "success"
	outcomeHostError = "host_error"
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport_error"
	outcomeInvalid   = "invalid"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	Calls            *prometheus.CounterVec
	Pending          prometheus.Gauge
	RoundTrip        prometheus.Histogram
	Events           *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and embedded bridges want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "calls_total",
			Help:      "Calls initiated, by final outcome.",
		}, []string{"outcome"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "pending_requests",
			Help:      "Calls awaiting a host response.",
		}),
		RoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "round_trip_seconds",
			Help:      "Time from call to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "events_published_total",
			Help:      "Events published, by whether any listener was registered.",
		}, []string{"delivered"}),
		ListenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages discarded, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Pending, m.RoundTrip, m.Events, m.ListenerFailures, m.Dropped)
	}
	return m
}
