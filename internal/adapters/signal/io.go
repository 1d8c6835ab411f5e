package signal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/dkeye/Bounce/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// codeMessageTooLarge is the stream error code sent when a control stream
// exceeds the message limit.
const codeMessageTooLarge uint32 = 0x1

// acceptStreams accepts client streams until the connection ends. Each stream
// carries exactly one control document and is read on its own goroutine.
func (d *Demux) acceptStreams(ctx context.Context, wg *conc.WaitGroup, conn core.Conn, sess *session.Session, loop *eventLoop) {
	for {
		r, err := conn.AcceptUniStream(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("accept stream")
			}
			return
		}
		wg.Go(func() { d.readControl(ctx, r, sess, loop) })
	}
}

func (d *Demux) readControl(ctx context.Context, r core.ReceiveStream, sess *session.Session, loop *eventLoop) {
	data, err := io.ReadAll(io.LimitReader(r, d.maxMessage+1))
	if err != nil {
		// reset before FIN; whatever arrived is discarded
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("control stream reset")
		return
	}
	if int64(len(data)) > d.maxMessage {
		r.CancelRead(codeMessageTooLarge)
		d.malformed(sess.ID(), fmt.Errorf("%w: control message over %d bytes", core.ErrMalformedMessage, d.maxMessage))
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		d.malformed(sess.ID(), err)
		return
	}
	loop.post(ctx, func() { d.handleControl(ctx, sess, msg) })
}

func (d *Demux) readDatagrams(ctx context.Context, conn core.Conn, sess *session.Session, loop *eventLoop) {
	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("receive datagram")
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			d.malformed(sess.ID(), err)
			continue
		}
		if !loop.post(ctx, func() { d.handleDatagram(sess, msg) }) {
			return
		}
	}
}

// malformed counts a dropped message and logs it unless the session has
// already produced too many warnings recently.
func (d *Demux) malformed(sid core.SessionID, err error) {
	d.Orch.Metrics.Dropped(metrics.ReasonMalformed)
	if d.warnings.Allow(sid) {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("malformed message dropped")
	}
}

func (d *Demux) unknown(sid core.SessionID, msg protocol.Message) {
	d.Orch.Metrics.Dropped(metrics.ReasonUnknownType)
	if d.warnings.Allow(sid) {
		log.Warn().
			Str("module", "signal").
			Str("sid", string(sid)).
			Str("type", msg.Type).
			Msg("unexpected message dropped")
	}
}
