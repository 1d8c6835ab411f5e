package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Dropped(ReasonMalformed)
		m.Transition("idle")
		m.SessionOpened()
		m.SessionClosed()
		m.Produced()
		m.Sent(true)
		m.ObserveError(3)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Dropped(ReasonMalformed)
	m.Dropped(ReasonMalformed)
	m.Sent(true)
	m.Sent(false)
	m.SessionOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRepeated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
}
