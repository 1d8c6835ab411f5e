// Package protocol is the JSON wire format spoken over the control streams
// and datagrams of a session.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/pion/webrtc/v4"
)

// Wire type names.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeCoords       = "coords"
	TypeError        = "error"
)

// Kind is the closed set of message variants. KindUnknown is the explicit
// arm for any well-formed document whose type is not recognised.
type Kind int

const (
	KindUnknown Kind = iota
	KindOffer
	KindAnswer
	KindICECandidate
	KindCoords
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return TypeOffer
	case KindAnswer:
		return TypeAnswer
	case KindICECandidate:
		return TypeICECandidate
	case KindCoords:
		return TypeCoords
	case KindError:
		return TypeError
	default:
		return "unknown"
	}
}

// Message is a decoded control or datagram message. Only the fields of its
// Kind are meaningful.
type Message struct {
	Kind Kind
	// Type is the raw "type" field, kept for logging unknown messages.
	Type string

	SDP       string                  // offer, answer
	Candidate webrtc.ICECandidateInit // ice-candidate
	X, Y      float64                 // coords
	Value     float64                 // error
}

type envelope struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	X         *float64        `json:"x,omitempty"`
	Y         *float64        `json:"y,omitempty"`
	E         *float64        `json:"e,omitempty"`
}

// Decode parses one JSON document. Parse failures and documents missing the
// fields of their type wrap core.ErrMalformedMessage; an unrecognised type
// decodes to KindUnknown without error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	msg := Message{Type: env.Type}

	switch env.Type {
	case TypeOffer, TypeAnswer:
		if env.SDP == "" {
			return msg, fmt.Errorf("%w: %s without sdp", core.ErrMalformedMessage, env.Type)
		}
		msg.Kind = KindOffer
		if env.Type == TypeAnswer {
			msg.Kind = KindAnswer
		}
		msg.SDP = env.SDP
	case TypeICECandidate:
		ci, err := decodeCandidate(env.Candidate)
		if err != nil {
			return msg, err
		}
		msg.Kind = KindICECandidate
		msg.Candidate = ci
	case TypeCoords:
		if env.X == nil || env.Y == nil {
			return msg, fmt.Errorf("%w: coords without x/y", core.ErrMalformedMessage)
		}
		msg.Kind = KindCoords
		msg.X, msg.Y = *env.X, *env.Y
	case TypeError:
		if env.E == nil {
			return msg, fmt.Errorf("%w: error without e", core.ErrMalformedMessage)
		}
		msg.Kind = KindError
		msg.Value = *env.E
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// decodeCandidate accepts either a bare candidate string or an
// RTCIceCandidateInit object.
func decodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var ci webrtc.ICECandidateInit
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ci, fmt.Errorf("%w: ice-candidate without candidate", core.ErrMalformedMessage)
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &ci.Candidate); err != nil {
			return ci, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
		}
		return ci, nil
	}
	if err := json.Unmarshal(raw, &ci); err != nil {
		return ci, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	return ci, nil
}

// EncodeAnswer builds the control-stream document carrying the local answer.
func EncodeAnswer(sdp string) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}{Type: TypeAnswer, SDP: sdp})
}

// EncodeOffer is the client side of EncodeAnswer; used by tests and tools.
func EncodeOffer(sdp string) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}{Type: TypeOffer, SDP: sdp})
}

// EncodeError builds the datagram reporting a detection error.
func EncodeError(value float64) ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		E    float64 `json:"e"`
	}{Type: TypeError, E: value})
}

// EncodeCandidate builds the datagram trickling a local ICE candidate.
func EncodeCandidate(ci webrtc.ICECandidateInit) ([]byte, error) {
	return json.Marshal(struct {
		Type      string                  `json:"type"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}{Type: TypeICECandidate, Candidate: ci})
}

// EncodeCoords is the client side of a detection report.
func EncodeCoords(x, y float64) ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}{Type: TypeCoords, X: x, Y: y})
}
