// Package feedback scores client-reported ball positions against the ground
// truth of the session's frame source.
package feedback

import (
	"math"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/dkeye/Bounce/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sessions resolves a session id. *app.Registry implements it.
type Sessions interface {
	Get(core.SessionID) (core.Session, bool)
}

type Evaluator struct {
	sessions Sessions
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewEvaluator(sessions Sessions, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		sessions: sessions,
		metrics:  m,
		logger:   log.With().Str("module", "feedback").Logger(),
	}
}

// Evaluate computes the euclidean distance between (x, y) and the current
// ground truth and sends it back to the client as an error datagram. It
// reports false when the session is unknown, closed or has no frame source
// yet, and when the distance is not a finite number. The ground truth is read at arrival time, not at the time the reported
// frame was produced.
func (e *Evaluator) Evaluate(sid core.SessionID, x, y float64) (float64, bool) {
	sess, ok := e.sessions.Get(sid)
	if !ok || sess.State() == core.StateClosed {
		return 0, false
	}
	truth, ok := sess.GroundTruth()
	if !ok {
		return 0, false
	}

	dist := math.Hypot(truth.X-x, truth.Y-y)
	if math.IsInf(dist, 0) || math.IsNaN(dist) {
		e.metrics.Dropped(metrics.ReasonMalformed)
		e.logger.Warn().Str("sid", string(sid)).Float64("x", x).Float64("y", y).Msg("coordinates out of range")
		return 0, false
	}
	e.metrics.ObserveError(dist)

	payload, err := protocol.EncodeError(dist)
	if err != nil {
		e.logger.Warn().Err(err).Str("sid", string(sid)).Msg("encode error reply")
		return dist, true
	}
	if err := sess.SendDatagram(payload); err != nil {
		e.logger.Debug().Err(err).Str("sid", string(sid)).Msg("error reply not sent")
	}
	return dist, true
}
