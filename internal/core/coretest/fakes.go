// Package coretest provides in-memory implementations of the core transport
// and peer interfaces for tests.
package coretest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Conn is an in-memory core.Conn. Inbound streams and datagrams are pushed by
// the test; outbound ones are recorded.
type Conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	uni    chan core.ReceiveStream
	dgrams chan []byte

	mu          sync.Mutex
	opened      []*stream
	sent        [][]byte
	closeReason string
	closeCount  int

	// SendErr, when set, is returned by SendDatagram.
	SendErr error
	// OpenErr, when set, is returned by OpenUniStream.
	OpenErr error
}

func NewConn() *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ctx:    ctx,
		cancel: cancel,
		uni:    make(chan core.ReceiveStream, 16),
		dgrams: make(chan []byte, 64),
	}
}

func (c *Conn) Context() context.Context { return c.ctx }

func (c *Conn) AcceptUniStream(ctx context.Context) (core.ReceiveStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, io.EOF
	case r := <-c.uni:
		return r, nil
	}
}

func (c *Conn) OpenUniStream(context.Context) (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	if c.ctx.Err() != nil {
		return nil, io.ErrClosedPipe
	}
	s := &stream{}
	c.opened = append(c.opened, s)
	return s, nil
}

func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, io.EOF
	case b := <-c.dgrams:
		return b, nil
	}
}

func (c *Conn) SendDatagram(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	c.closeCount++
	if c.closeReason == "" {
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.cancel()
	return nil
}

// PushStream delivers a complete client stream carrying data.
func (c *Conn) PushStream(data []byte) *ClientStream {
	return c.PushStreamReader(bytes.NewReader(data))
}

// PushStreamReader delivers a client stream backed by r.
func (c *Conn) PushStreamReader(r io.Reader) *ClientStream {
	s := &ClientStream{r: r}
	c.uni <- s
	return s
}

// PushDatagram delivers a client datagram.
func (c *Conn) PushDatagram(b []byte) { c.dgrams <- b }

// Streams returns the payloads of server streams that were closed.
func (c *Conn) Streams() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, s := range c.opened {
		if data, ok := s.closedData(); ok {
			out = append(out, data)
		}
	}
	return out
}

// Datagrams returns every datagram sent by the server.
func (c *Conn) Datagrams() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *Conn) Closed() bool { return c.ctx.Err() != nil }

func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

type stream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.buf.Write(b)
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stream) closedData() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...), s.closed
}

// ClientStream is a client-initiated stream that records CancelRead.
type ClientStream struct {
	r io.Reader

	mu        sync.Mutex
	cancelled bool
	code      uint32
}

func (s *ClientStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *ClientStream) CancelRead(code uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.code = code
}

// Cancelled reports whether CancelRead was called, and with which code.
func (s *ClientStream) Cancelled() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.cancelled
}

// ResetReader fails with err after yielding data, like a stream reset mid-transfer.
type ResetReader struct {
	Data []byte
	Err  error
	read bool
}

func (r *ResetReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.Data), nil
	}
	if r.Err == nil {
		return 0, errors.New("stream reset")
	}
	return 0, r.Err
}

// AnswerSDP is the description returned by Peer.CreateAnswer.
const AnswerSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// Peer is an in-memory core.PeerConnection.
type Peer struct {
	mu         sync.Mutex
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closeCount int
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)

	SetRemoteErr error
	AnswerErr    error
	Track        *Track
}

func NewPeer() *Peer { return &Peer{Track: &Track{}} }

func (p *Peer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetRemoteErr != nil {
		return p.SetRemoteErr
	}
	p.remote = &d
	return nil
}

func (p *Peer) CreateAnswer() (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AnswerErr != nil {
		return nil, p.AnswerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: AnswerSDP}, nil
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *Peer) VideoTrack() core.SampleWriter { return p.Track }

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return nil
}

// FireState invokes the connection state callback as the engine would.
func (p *Peer) FireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// FireCandidate invokes the local candidate callback as the engine would.
func (p *Peer) FireCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *Peer) Remote() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// Track records written samples.
type Track struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (t *Track) WriteSample(s media.Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, s)
	return nil
}

func (t *Track) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Encoder copies the frame bytes.
type Encoder struct{}

func (Encoder) Encode(f domain.Frame, _ time.Duration) ([]byte, error) {
	return append([]byte(nil), f.Data...), nil
}

// NewEncoder is an encoder factory handing out Encoder.
func NewEncoder(core.SessionID) (core.Encoder, error) { return Encoder{}, nil }
