// Package metrics holds the Prometheus instruments of the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bounce"

// Drop reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
	ReasonProtocol    = "protocol_violation"
	ReasonUnbound     = "unbound_resource"
	ReasonClosed      = "session_closed"
	ReasonPersistence = "persistence"
)

// Metrics is a set of instruments bound to a private registry, so several
// servers (or tests) can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	StateTransitions *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	FramesProduced   prometheus.Counter
	FramesSent       prometheus.Counter
	FramesRepeated   prometheus.Counter
	DetectionError   prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently in the registry",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Negotiation state transitions by destination state",
		}, []string{"state"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped without affecting the session",
		}, []string{"reason"}),
		FramesProduced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_produced_total",
			Help:      "Frames published by frame sources",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to peer video tracks",
		}),
		FramesRepeated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_repeated_total",
			Help:      "Frames re-sent because the frame source stalled",
		}),
		DetectionError: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_error_pixels",
			Help:      "Euclidean distance between reported and true position",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}),
	}
}

// Dropped counts one dropped message. Safe on a nil receiver.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// The helpers below are safe on a nil receiver so components can run
// without instrumentation in tests.

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) Produced() {
	if m == nil {
		return
	}
	m.FramesProduced.Inc()
}

func (m *Metrics) Sent(repeated bool) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	if repeated {
		m.FramesRepeated.Inc()
	}
}

func (m *Metrics) ObserveError(v float64) {
	if m == nil {
		return
	}
	m.DetectionError.Observe(v)
}
