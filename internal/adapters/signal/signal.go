// Package signal demultiplexes a client connection into session events:
// control documents on unidirectional streams and candidate / detection
// reports on datagrams.
package signal

import (
	"context"
	"time"

	"github.com/dkeye/Bounce/internal/app/orch"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	DefaultMaxMessageBytes = 64 << 10
	eventQueue             = 64

	warnBurst  = 5
	warnWindow = 10 * time.Second
)

type Demux struct {
	Orch *orch.Orchestrator

	maxMessage int64
	warnings   *RateLimiter
}

func NewDemux(o *orch.Orchestrator, maxMessageBytes int64) *Demux {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &Demux{
		Orch:       o,
		maxMessage: maxMessageBytes,
		warnings:   NewRateLimiter(warnBurst, warnWindow),
	}
}

// Serve runs the session of conn until the transport goes away or the
// session is torn down. It blocks.
func (d *Demux) Serve(conn core.Conn) {
	ctx, cancel := context.WithCancel(conn.Context())
	defer cancel()

	loop := newEventLoop(eventQueue)
	sess := d.Orch.Open(ctx, conn, func(fn func()) bool { return loop.post(ctx, fn) })
	sid := sess.ID()
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new session")

	var wg conc.WaitGroup
	wg.Go(func() { loop.run(ctx) })
	wg.Go(func() {
		defer cancel()
		d.acceptStreams(ctx, &wg, conn, sess, loop)
	})
	wg.Go(func() {
		defer cancel()
		d.readDatagrams(ctx, conn, sess, loop)
	})
	wg.Wait()

	sess.Teardown()
	d.warnings.Forget(sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("session done")
}

// eventLoop serialises every event of one session onto a single goroutine.
type eventLoop struct {
	events chan func()
	done   chan struct{}
}

func newEventLoop(size int) *eventLoop {
	return &eventLoop{
		events: make(chan func(), size),
		done:   make(chan struct{}),
	}
}

func (l *eventLoop) post(ctx context.Context, fn func()) bool {
	select {
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	case l.events <- fn:
		return true
	}
}

func (l *eventLoop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.events:
			fn()
		}
	}
}
