// Package framesource runs the real-time producer of synthetic motion frames.
//
// A Source owns one goroutine that ticks at a fixed rate, advances the ball,
// renders it and publishes an immutable domain.Snapshot through an atomic
// pointer. Readers never block and never see a half-written snapshot.
package framesource

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Width  int
	Height int
	FPS    int
	Radius int
	// VX, VY are the ball velocity in pixels per tick.
	VX, VY float64
}

func DefaultConfig() Config {
	return Config{Width: 640, Height: 480, FPS: 30, Radius: 20, VX: 5, VY: 3}
}

// Interval is the duration of one production tick.
func (c Config) Interval() time.Duration {
	if c.FPS <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.FPS)
}

// persistQueue bounds the frames waiting for the sink.
const persistQueue = 8

type persistJob struct {
	frame domain.Frame
	seq   uint64
}

type Source struct {
	cfg      Config
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	sink     Sink

	snap     atomic.Pointer[domain.Snapshot]
	stopping atomic.Bool
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	// owned by the production goroutine
	motion  motion
	seq     uint64
	persist chan persistJob
	dropped uint64
}

type Option func(*Source)

// WithSink enables the persistence side effect.
func WithSink(sink Sink) Option { return func(s *Source) { s.sink = sink } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Source) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Source) { s.logger = l } }

func New(cfg Config, opts ...Option) *Source {
	s := &Source{
		cfg:      cfg,
		interval: cfg.Interval(),
		logger:   log.With().Str("module", "framesource").Logger(),
		done:     make(chan struct{}),
		motion:   newMotion(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&domain.Snapshot{
		Frame:     domain.NewFrame(cfg.Width, cfg.Height),
		Pos:       s.motion.position(),
		Timestamp: time.Now(),
	})
	return s
}

// Start launches the production loop. Calling it more than once is a no-op.
func (s *Source) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.sink != nil {
		s.persist = make(chan persistJob, persistQueue)
		go s.persistLoop(s.persist)
	}
	s.logger.Info().
		Int("fps", s.cfg.FPS).
		Int("width", s.cfg.Width).
		Int("height", s.cfg.Height).
		Msg("frame source started")
	go s.run()
}

// Stop raises the stop flag and waits for the loop to observe it, which
// takes at most one interval. Idempotent.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if s.started.Load() {
			<-s.done
		}
		s.logger.Info().Uint64("seq", s.Snapshot().Seq).Msg("frame source stopped")
	})
}

// Running reports whether the production loop is alive.
func (s *Source) Running() bool {
	if !s.started.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Source) Interval() time.Duration { return s.interval }

// Snapshot returns the latest complete snapshot. Never nil.
func (s *Source) Snapshot() *domain.Snapshot { return s.snap.Load() }

// Frame returns the latest frame; a blank frame before the first tick.
func (s *Source) Frame() domain.Frame { return s.snap.Load().Frame }

// Position returns the latest ground truth; the frame center before the first tick.
func (s *Source) Position() domain.Position { return s.snap.Load().Pos }

func (s *Source) run() {
	defer close(s.done)
	defer func() {
		if s.persist != nil {
			close(s.persist)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for now := range ticker.C {
		if s.stopping.Load() {
			return
		}
		s.tick(now)
	}
}

func (s *Source) tick(now time.Time) {
	s.motion.step()
	pos := s.motion.position()
	frame := render(s.cfg.Width, s.cfg.Height, s.cfg.Radius, pos)
	s.seq++

	if prev := s.snap.Load(); !now.After(prev.Timestamp) {
		now = prev.Timestamp.Add(time.Nanosecond)
	}
	s.snap.Store(&domain.Snapshot{Frame: frame, Pos: pos, Seq: s.seq, Timestamp: now})
	s.metrics.Produced()

	if s.persist == nil {
		return
	}
	select {
	case s.persist <- persistJob{frame: frame, seq: s.seq}:
	default:
		s.dropped++
		s.metrics.Dropped(metrics.ReasonPersistence)
		if s.dropped == 1 || s.dropped%100 == 0 {
			s.logger.Warn().Uint64("dropped", s.dropped).Msg("frame sink is behind, dropping frames")
		}
	}
}

func (s *Source) persistLoop(jobs <-chan persistJob) {
	for job := range jobs {
		if err := s.sink.Write(job.frame, job.seq); err != nil {
			s.metrics.Dropped(metrics.ReasonPersistence)
			s.logger.Warn().
				Err(fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)).
				Uint64("seq", job.seq).
				Msg("frame not persisted")
		}
	}
	if c, ok := s.sink.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close frame sink")
		}
	}
}
