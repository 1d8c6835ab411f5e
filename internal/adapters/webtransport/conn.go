package webtransport

import (
	"context"
	"io"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/quic-go/webtransport-go"
)

// sessionConn adapts a WebTransport session to core.Conn.
type sessionConn struct {
	s *webtransport.Session
}

var _ core.Conn = sessionConn{}

func (c sessionConn) Context() context.Context { return c.s.Context() }

func (c sessionConn) AcceptUniStream(ctx context.Context) (core.ReceiveStream, error) {
	str, err := c.s.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return receiveStream{str: str}, nil
}

type quicReceiveStream interface {
	io.Reader
	CancelRead(webtransport.StreamErrorCode)
}

type receiveStream struct {
	str quicReceiveStream
}

func (r receiveStream) Read(p []byte) (int, error) { return r.str.Read(p) }

func (r receiveStream) CancelRead(code uint32) {
	r.str.CancelRead(webtransport.StreamErrorCode(code))
}

func (c sessionConn) OpenUniStream(ctx context.Context) (io.WriteCloser, error) {
	str, err := c.s.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return str, nil
}

func (c sessionConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.s.ReceiveDatagram(ctx)
}

func (c sessionConn) SendDatagram(b []byte) error { return c.s.SendDatagram(b) }

func (c sessionConn) Close(reason string) error {
	return c.s.CloseWithError(0, reason)
}
