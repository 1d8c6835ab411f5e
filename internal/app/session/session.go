// Package session is the per-connection negotiation state machine. A Session
// is driven by exactly one event loop; only Teardown, State, GroundTruth and
// SendDatagram may be called from other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Bounce/internal/app"
	"github.com/dkeye/Bounce/internal/app/framesource"
	"github.com/dkeye/Bounce/internal/app/sender"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/dkeye/Bounce/internal/protocol"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	evOffer   = "offer"
	evAnswer  = "answer"
	evConnect = "connect"
	evClose   = "close"
)

// PeerFactory creates the peer connection of a session.
type PeerFactory func(sid core.SessionID) (core.PeerConnection, error)

// EncoderFactory creates the video encoder of a session. Encoders that
// implement io.Closer are closed once the media sender stops.
type EncoderFactory func(sid core.SessionID) (core.Encoder, error)

// SinkFactory creates the frame sink of a session.
type SinkFactory func(sid core.SessionID) (framesource.Sink, error)

// Dispatcher posts fn to the session event loop. It reports false if the loop
// has already stopped.
type Dispatcher func(fn func()) bool

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Registry *app.Registry
	NewPeer    PeerFactory
	NewEncoder EncoderFactory
	// NewSink is optional; nil disables frame persistence.
	NewSink         SinkFactory
	Source          framesource.Config
	Codec           string
	CandidateBuffer int
	StallWait       time.Duration
	Metrics         *metrics.Metrics
}

type Session struct {
	id       core.SessionID
	conn     core.Conn
	deps     Deps
	dispatch Dispatcher
	logger   zerolog.Logger
	machine  *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
	source atomic.Pointer[framesource.Source]

	// written by the event loop under mu, read by Teardown under mu
	mu     sync.Mutex
	peer   core.PeerConnection
	sender *sender.Sender

	pending *CandidateBuffer
}

func New(parent context.Context, sid core.SessionID, conn core.Conn, deps Deps, dispatch Dispatcher) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       sid,
		conn:     conn,
		deps:     deps,
		dispatch: dispatch,
		logger:   log.With().Str("module", "session").Str("sid", string(sid)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		pending:  NewCandidateBuffer(deps.CandidateBuffer),
	}
	s.machine = fsm.NewFSM(
		core.StateIdle.String(),
		fsm.Events{
			{Name: evOffer, Src: []string{core.StateIdle.String()}, Dst: core.StateOfferReceived.String()},
			{Name: evAnswer, Src: []string{core.StateOfferReceived.String()}, Dst: core.StateAnswerSent.String()},
			{Name: evConnect, Src: []string{core.StateAnswerSent.String()}, Dst: core.StateConnected.String()},
			{Name: evClose, Src: []string{
				core.StateIdle.String(),
				core.StateOfferReceived.String(),
				core.StateAnswerSent.String(),
				core.StateConnected.String(),
			}, Dst: core.StateClosed.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("state change")
				s.deps.Metrics.Transition(e.Dst)
			},
		},
	)
	return s
}

func (s *Session) ID() core.SessionID { return s.id }

func (s *Session) State() core.State { return core.ParseState(s.machine.Current()) }

// GroundTruth is the position of the latest published snapshot.
func (s *Session) GroundTruth() (domain.Position, bool) {
	src := s.source.Load()
	if src == nil {
		return domain.Position{}, false
	}
	return src.Position(), true
}

func (s *Session) SendDatagram(b []byte) error { return s.conn.SendDatagram(b) }

// StartNegotiation handles an offer. It fails with core.ErrProtocolViolation,
// leaving the state unchanged, unless the session is Idle. Any failure after
// that is a transport failure and tears the session down.
func (s *Session) StartNegotiation(ctx context.Context, offer string) error {
	if s.machine.Cannot(evOffer) {
		return fmt.Errorf("%w: offer in state %s", core.ErrProtocolViolation, s.machine.Current())
	}
	if err := s.machine.Event(context.Background(), evOffer); err != nil {
		return fmt.Errorf("%w: %v", core.ErrProtocolViolation, err)
	}

	src := s.newSource()
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed during negotiation", core.ErrTransportFailure)
	}
	s.source.Store(src)
	src.Start()
	s.mu.Unlock()

	peer, err := s.deps.NewPeer(s.id)
	if err != nil {
		return s.fail("create peer connection", err)
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = peer.Close()
		return fmt.Errorf("%w: session closed during negotiation", core.ErrTransportFailure)
	}
	s.peer = peer
	s.mu.Unlock()

	peer.OnICECandidate(s.trickle)
	peer.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.dispatch(func() { s.ConnectionStateChanged(st) })
	})

	sdp, err := PreferCodec(offer, s.deps.Codec)
	if err != nil {
		s.logger.Warn().Err(err).Str("codec", s.deps.Codec).Msg("codec preference not applied")
		sdp = offer
	}
	if err := peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return s.fail("set remote description", err)
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		return s.fail("create answer", err)
	}

	enc, err := s.deps.NewEncoder(s.id)
	if err != nil {
		return s.fail("create encoder", err)
	}
	snd := sender.New(src.Interval(), s.deps.StallWait,
		sender.WithMetrics(s.deps.Metrics),
		sender.WithLogger(log.With().Str("module", "sender").Str("sid", string(s.id)).Logger()),
	)
	snd.Bind(src)
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.closeEncoder(enc)
		return fmt.Errorf("%w: session closed during negotiation", core.ErrTransportFailure)
	}
	s.sender = snd
	s.mu.Unlock()
	go func() {
		defer s.closeEncoder(enc)
		if err := snd.Run(s.ctx, enc, peer.VideoTrack()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("media sender stopped")
		}
	}()

	if err := s.machine.Event(context.Background(), evAnswer); err != nil {
		return s.fail("enter answer_sent", err)
	}
	if err := s.sendAnswer(ctx, answer.SDP); err != nil {
		return s.fail("send answer", err)
	}
	return nil
}

func (s *Session) closeEncoder(enc core.Encoder) {
	c, ok := enc.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close encoder")
	}
}

func (s *Session) newSource() *framesource.Source {
	opts := []framesource.Option{
		framesource.WithMetrics(s.deps.Metrics),
		framesource.WithLogger(log.With().Str("module", "framesource").Str("sid", string(s.id)).Logger()),
	}
	if s.deps.NewSink != nil {
		sink, err := s.deps.NewSink(s.id)
		if err != nil {
			s.logger.Warn().Err(fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)).Msg("frames will not be saved")
			s.deps.Metrics.Dropped(metrics.ReasonPersistence)
		} else {
			opts = append(opts, framesource.WithSink(sink))
		}
	}
	return framesource.New(s.deps.Source, opts...)
}

func (s *Session) sendAnswer(ctx context.Context, sdp string) error {
	payload, err := protocol.EncodeAnswer(sdp)
	if err != nil {
		return err
	}
	w, err := s.conn.OpenUniStream(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// trickle forwards a locally gathered candidate as a datagram. Runs on a
// peer engine goroutine and only touches the transport.
func (s *Session) trickle(ci webrtc.ICECandidateInit) {
	if s.closed.Load() {
		return
	}
	payload, err := protocol.EncodeCandidate(ci)
	if err != nil {
		s.logger.Warn().Err(err).Msg("encode local candidate")
		return
	}
	if err := s.conn.SendDatagram(payload); err != nil {
		s.logger.Debug().Err(err).Msg("local candidate not sent")
	}
}

// AddRemoteCandidate applies c once a peer connection exists. Before that it
// is buffered; when the buffer is full the oldest entry is dropped and
// core.ErrUnboundResource returned. Candidates for a closed session are
// dropped.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	if s.State() == core.StateClosed {
		s.logger.Warn().Str("candidate", c.Candidate).Msg("candidate for closed session dropped")
		s.deps.Metrics.Dropped(metrics.ReasonClosed)
		return nil
	}
	if s.State() == core.StateIdle || s.peer == nil {
		if old, dropped := s.pending.Push(c); dropped {
			s.deps.Metrics.Dropped(metrics.ReasonUnbound)
			return fmt.Errorf("%w: candidate buffer full, dropped %q", core.ErrUnboundResource, old.Candidate)
		}
		return nil
	}
	if err := s.peer.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: add candidate: %v", core.ErrMalformedMessage, err)
	}
	return nil
}

// ConnectionStateChanged reacts to peer connection state events.
func (s *Session) ConnectionStateChanged(st webrtc.PeerConnectionState) {
	if s.closed.Load() {
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.machine.Cannot(evConnect) {
			return
		}
		if err := s.machine.Event(context.Background(), evConnect); err != nil {
			s.logger.Warn().Err(err).Msg("enter connected")
			return
		}
		s.replay()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.logger.Error().
			Err(fmt.Errorf("%w: peer connection %s", core.ErrTransportFailure, st)).
			Msg("tearing down session")
		s.Teardown()
	default:
		s.logger.Debug().Str("peer_connection_state", st.String()).Msg("peer state")
	}
}

func (s *Session) replay() {
	buffered := s.pending.Drain()
	if len(buffered) == 0 || s.peer == nil {
		return
	}
	for _, c := range buffered {
		if err := s.peer.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	s.logger.Info().Int("count", len(buffered)).Msg("replayed buffered candidates")
}

func (s *Session) fail(step string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", core.ErrTransportFailure, step, err)
	s.logger.Error().Err(wrapped).Msg("negotiation failed")
	s.Teardown()
	return wrapped
}

// Teardown releases everything the session owns. Safe to call more than once
// and from any goroutine.
func (s *Session) Teardown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.machine.Event(context.Background(), evClose); err != nil {
		s.logger.Debug().Err(err).Msg("close transition")
	}

	s.mu.Lock()
	snd, peer := s.sender, s.peer
	s.mu.Unlock()
	src := s.source.Load()

	if snd != nil {
		snd.Unbind()
	}
	if src != nil {
		src.Stop()
	}
	s.cancel()
	if peer != nil {
		if err := peer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close peer connection")
		}
	}
	if s.deps.Registry != nil && s.deps.Registry.Remove(s.id) {
		s.deps.Metrics.SessionClosed()
	}
	if err := s.conn.Close("session closed"); err != nil {
		s.logger.Debug().Err(err).Msg("close transport")
	}
	s.logger.Info().Msg("session torn down")
}
