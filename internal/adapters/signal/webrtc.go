package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/dkeye/Bounce/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleControl runs on the session event loop.
func (d *Demux) handleControl(ctx context.Context, sess *session.Session, msg protocol.Message) {
	if msg.Kind != protocol.KindOffer {
		d.malformed(sess.ID(), fmt.Errorf("%w: %q on control stream", core.ErrMalformedMessage, msg.Type))
		return
	}
	err := sess.StartNegotiation(ctx, msg.SDP)
	switch {
	case err == nil:
		log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Msg("answer sent")
	case errors.Is(err, core.ErrProtocolViolation):
		d.Orch.Metrics.Dropped(metrics.ReasonProtocol)
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("offer ignored")
	default:
		// the session has torn itself down
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("negotiation failed")
	}
}

// handleDatagram runs on the session event loop.
func (d *Demux) handleDatagram(sess *session.Session, msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindICECandidate:
		if err := sess.AddRemoteCandidate(msg.Candidate); err != nil {
			if errors.Is(err, core.ErrMalformedMessage) {
				d.malformed(sess.ID(), err)
				return
			}
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("candidate")
		}
	case protocol.KindCoords:
		if v, ok := d.Orch.Evaluate(sess.ID(), msg.X, msg.Y); ok {
			log.Debug().Str("module", "signal").Str("sid", string(sess.ID())).Float64("error", v).Msg("detection evaluated")
		}
	default:
		d.unknown(sess.ID(), msg)
	}
}
