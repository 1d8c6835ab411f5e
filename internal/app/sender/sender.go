// Package sender is the pull-driven consumer that paces frames from a bound
// frame source into a peer video track.
package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FrameSource is the read side of a frame producer.
type FrameSource interface {
	Snapshot() *domain.Snapshot
}

// Stamped is a frame together with its presentation timestamp.
type Stamped struct {
	Frame    domain.Frame
	PTS      time.Duration
	Seq      uint64
	Repeated bool
}

type binding struct {
	src FrameSource
}

type Sender struct {
	interval  time.Duration
	stallWait time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	bound atomic.Pointer[binding]

	// virtual clock, owned by the caller of Next
	start   time.Time
	n       int64
	seen    bool
	lastSeq uint64
	last    domain.Frame

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Sender)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sender) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Sender) { s.logger = l } }

// New creates an unbound sender producing one frame per interval. stallWait
// bounds how long Next waits for a fresh snapshot before repeating the last one.
func New(interval, stallWait time.Duration, opts ...Option) *Sender {
	s := &Sender{
		interval:  interval,
		stallWait: stallWait,
		logger:    log.With().Str("module", "sender").Logger(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind attaches the sender to a frame source.
func (s *Sender) Bind(src FrameSource) {
	s.bound.Store(&binding{src: src})
}

// Unbind detaches the source; the next call to Next fails with core.ErrUnbound.
func (s *Sender) Unbind() {
	s.bound.Store(nil)
}

// Next returns the next network frame. The virtual clock advances by exactly
// one interval per call and Next sleeps only for the residual time to reach
// that boundary, so a late call is not carried into the following ones.
func (s *Sender) Next(ctx context.Context) (Stamped, error) {
	b := s.bound.Load()
	if b == nil {
		return Stamped{}, core.ErrUnbound
	}
	if err := ctx.Err(); err != nil {
		return Stamped{}, err
	}

	if s.start.IsZero() {
		s.start = s.now()
	}
	pts := time.Duration(s.n) * s.interval
	if d := s.start.Add(pts).Sub(s.now()); d > 0 {
		if err := s.sleep(ctx, d); err != nil {
			return Stamped{}, err
		}
	}
	s.n++

	snap := b.src.Snapshot()
	if s.seen && snap.Seq <= s.lastSeq {
		snap = s.waitFresh(ctx, b.src, snap)
		if s.bound.Load() == nil {
			return Stamped{}, core.ErrUnbound
		}
	}

	out := Stamped{PTS: pts}
	if s.seen && snap.Seq <= s.lastSeq {
		out.Frame, out.Seq, out.Repeated = s.last, s.lastSeq, true
	} else {
		s.seen, s.lastSeq, s.last = true, snap.Seq, snap.Frame
		out.Frame, out.Seq = snap.Frame, snap.Seq
	}
	return out, nil
}

// waitFresh polls the source for a snapshot newer than the last one sent,
// for at most stallWait.
func (s *Sender) waitFresh(ctx context.Context, src FrameSource, snap *domain.Snapshot) *domain.Snapshot {
	if s.stallWait <= 0 {
		return snap
	}
	step := max(s.stallWait/8, time.Millisecond)
	deadline := s.now().Add(s.stallWait)
	for s.now().Before(deadline) {
		if err := s.sleep(ctx, step); err != nil {
			return snap
		}
		if next := src.Snapshot(); next.Seq > s.lastSeq {
			return next
		}
	}
	return snap
}

// Run pulls frames until the sender is unbound, ctx ends or the track is
// closed. Unbinding is the normal way to stop it and yields a nil error.
func (s *Sender) Run(ctx context.Context, enc core.Encoder, out core.SampleWriter) error {
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, core.ErrUnbound) {
			s.logger.Info().Msg("sender unbound, stopping")
			return nil
		}
		if err != nil {
			return err
		}

		data, err := enc.Encode(f.Frame, f.PTS)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("seq", f.Seq).Msg("encode failed, frame skipped")
			continue
		}
		sample := media.Sample{
			Data:      data,
			Duration:  s.interval,
			Timestamp: s.start.Add(f.PTS),
		}
		if err := out.WriteSample(sample); err != nil {
			s.logger.Warn().Err(err).Msg("write sample failed, stopping")
			return err
		}
		s.metrics.Sent(f.Repeated)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
