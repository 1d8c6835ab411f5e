package core

import "errors"

var (
	// ErrProtocolViolation is returned when negotiation is re-entered while active.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrMalformedMessage marks an unparsable message or one with an unknown type.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnboundResource marks a candidate that arrived before a negotiation
	// context existed and did not fit in the candidate buffer.
	ErrUnboundResource = errors.New("unbound resource")
	// ErrTransportFailure is the only condition that forces a session closed.
	ErrTransportFailure = errors.New("transport failure")
	// ErrPersistenceFailure is a non-fatal frame sink error.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrUnbound is the terminal signal of a media sender with no frame source.
	ErrUnbound = errors.New("sender unbound")
)
