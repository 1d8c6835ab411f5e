package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Bounce/internal/app"
	"github.com/dkeye/Bounce/internal/app/framesource"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/core/coretest"
	"github.com/dkeye/Bounce/internal/metrics"
	"github.com/dkeye/Bounce/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(c string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: c} }

type harness struct {
	sess *Session
	conn *coretest.Conn
	peer *coretest.Peer
	reg  *app.Registry
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		conn: coretest.NewConn(),
		peer: coretest.NewPeer(),
		reg:  app.NewRegistry(),
	}
	deps := Deps{
		Registry:        h.reg,
		NewPeer:         func(core.SessionID) (core.PeerConnection, error) { return h.peer, nil },
		NewEncoder:      coretest.NewEncoder,
		Source:          framesource.Config{Width: 32, Height: 24, FPS: 50, Radius: 3, VX: 1, VY: 1},
		Codec:           "H264",
		CandidateBuffer: 4,
		StallWait:       5 * time.Millisecond,
		Metrics:         metrics.New(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	// callbacks run inline, which is what a single event loop looks like to the test
	h.sess = New(context.Background(), "s1", h.conn, deps, func(fn func()) bool { fn(); return true })
	require.True(t, h.reg.Add(h.sess))
	t.Cleanup(h.sess.Teardown)
	return h
}

func TestNegotiationSendsAnswer(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))
	assert.Equal(t, core.StateAnswerSent, h.sess.State())

	remote := h.peer.Remote()
	require.NotNil(t, remote)
	assert.Equal(t, webrtc.SDPTypeOffer, remote.Type)
	assert.Contains(t, remote.SDP, "m=video 9 UDP/TLS/RTP/SAVPF 102 96 97 103 98\r\n")

	streams := h.conn.Streams()
	require.Len(t, streams, 1)
	var answer struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	require.NoError(t, json.Unmarshal(streams[0], &answer))
	assert.Equal(t, "answer", answer.Type)
	assert.Equal(t, coretest.AnswerSDP, answer.SDP)

	_, ok := h.sess.GroundTruth()
	assert.True(t, ok)
	assert.Eventually(t, func() bool { return h.peer.Track.Len() > 0 }, time.Second, 5*time.Millisecond)
}

func TestSecondOfferIsProtocolViolation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))

	err := h.sess.StartNegotiation(context.Background(), videoOffer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrProtocolViolation))
	assert.Equal(t, core.StateAnswerSent, h.sess.State())
	assert.Len(t, h.conn.Streams(), 1)
	assert.False(t, h.conn.Closed())
}

func TestCandidateBufferedWhileIdleAppliedOnceConnected(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sess.AddRemoteCandidate(cand("candidate:1 1 udp 1 10.0.0.1 5000 typ host")))
	_, ok := h.sess.GroundTruth()
	assert.False(t, ok)

	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))
	assert.Empty(t, h.peer.Candidates())

	h.peer.FireState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, core.StateConnected, h.sess.State())
	require.Len(t, h.peer.Candidates(), 1)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", h.peer.Candidates()[0].Candidate)

	h.peer.FireState(webrtc.PeerConnectionStateConnected)
	assert.Len(t, h.peer.Candidates(), 1)
}

func TestCandidateAppliedImmediatelyAfterOffer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))

	require.NoError(t, h.sess.AddRemoteCandidate(cand("a")))
	assert.Len(t, h.peer.Candidates(), 1)
}

func TestIdleBufferOverflowReportsUnbound(t *testing.T) {
	h := newHarness(t)
	for _, c := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.sess.AddRemoteCandidate(cand(c)))
	}
	err := h.sess.AddRemoteCandidate(cand("e"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnboundResource))

	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))
	h.peer.FireState(webrtc.PeerConnectionStateConnected)

	var got []string
	for _, c := range h.peer.Candidates() {
		got = append(got, c.Candidate)
	}
	assert.Equal(t, []string{"b", "c", "d", "e"}, got)
}

func TestLocalCandidatesAreTrickled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))

	h.peer.FireCandidate(cand("candidate:9 1 udp 1 192.168.1.2 6000 typ host"))

	dgrams := h.conn.Datagrams()
	require.Len(t, dgrams, 1)
	msg, err := protocol.Decode(dgrams[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindICECandidate, msg.Kind)
	assert.Equal(t, "candidate:9 1 udp 1 192.168.1.2 6000 typ host", msg.Candidate.Candidate)
}

func TestPeerFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))

	h.peer.FireState(webrtc.PeerConnectionStateFailed)

	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.True(t, h.conn.Closed())
	assert.Equal(t, 1, h.peer.CloseCount())
	assert.Zero(t, h.reg.Len())
}

func TestNegotiationErrorIsTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.peer.SetRemoteErr = errors.New("bad offer")

	err := h.sess.StartNegotiation(context.Background(), videoOffer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransportFailure))
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.True(t, h.conn.Closed())
	assert.Zero(t, h.reg.Len())
}

func TestEncoderFailureIsTransportFailure(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.NewEncoder = func(core.SessionID) (core.Encoder, error) { return nil, errors.New("no encoder") }
	})

	err := h.sess.StartNegotiation(context.Background(), videoOffer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTransportFailure))
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Empty(t, h.conn.Streams())
	assert.Equal(t, 1, h.peer.CloseCount())
}

type closingEncoder struct {
	coretest.Encoder
	closes atomic.Int32
}

func (e *closingEncoder) Close() error {
	e.closes.Add(1)
	return nil
}

func TestEncoderClosedWhenSenderStops(t *testing.T) {
	enc := &closingEncoder{}
	h := newHarness(t, func(d *Deps) {
		d.NewEncoder = func(core.SessionID) (core.Encoder, error) { return enc, nil }
	})
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))
	assert.Zero(t, enc.closes.Load())

	h.sess.Teardown()
	assert.Eventually(t, func() bool { return enc.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTeardownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.StartNegotiation(context.Background(), videoOffer))
	src := h.sess.source.Load()
	require.NotNil(t, src)

	h.sess.Teardown()
	h.sess.Teardown()

	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.False(t, src.Running())
	assert.Equal(t, 1, h.peer.CloseCount())
	assert.Equal(t, 1, h.conn.CloseCount())
	_, ok := h.reg.Get("s1")
	assert.False(t, ok)

	// the sender stops on unbind; the track stops growing
	time.Sleep(30 * time.Millisecond)
	n := h.peer.Track.Len()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, h.peer.Track.Len())
}

func TestCandidateAfterCloseDropped(t *testing.T) {
	h := newHarness(t)
	h.sess.Teardown()

	assert.NoError(t, h.sess.AddRemoteCandidate(cand("late")))
	assert.Empty(t, h.peer.Candidates())
	assert.Zero(t, h.sess.pending.Len())
}

func TestOfferAfterCloseIsProtocolViolation(t *testing.T) {
	h := newHarness(t)
	h.sess.Teardown()

	err := h.sess.StartNegotiation(context.Background(), videoOffer)
	assert.True(t, errors.Is(err, core.ErrProtocolViolation))
	assert.Equal(t, core.StateClosed, h.sess.State())
}
