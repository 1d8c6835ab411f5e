package core

import (
	"context"
	"io"
)

// Conn abstracts a multiplexed client connection: reliable unidirectional
// streams for control documents and unreliable datagrams for everything else.
// Owned by the adapter; the demux must Close() it on teardown.
type Conn interface {
	// Context is done once the underlying transport session is gone.
	Context() context.Context
	// AcceptUniStream blocks until the client opens a new stream.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	// OpenUniStream opens a new server-initiated stream.
	OpenUniStream(ctx context.Context) (io.WriteCloser, error)
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	SendDatagram([]byte) error
	Close(reason string) error
}

// ReceiveStream is the read side of a client stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead stops reading and asks the peer to stop sending.
	CancelRead(code uint32)
}
