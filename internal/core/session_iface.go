package core

import "github.com/dkeye/Bounce/internal/domain"

type SessionID string

// State is the negotiation state of a Session.
type State int

const (
	StateIdle State = iota
	StateOfferReceived
	StateAnswerSent
	StateConnected
	StateClosed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateOfferReceived: "offer_received",
	StateAnswerSent:    "answer_sent",
	StateConnected:     "connected",
	StateClosed:        "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ParseState maps a state name back to its State. Unknown names map to StateClosed.
func ParseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return StateClosed
}

// Session is what the registry stores and what the feedback path reads from.
// The concrete type lives in app/session and is owned by one event loop.
type Session interface {
	ID() SessionID
	State() State
	// GroundTruth returns the latest simulated position, false if no frame
	// source is bound yet.
	GroundTruth() (domain.Position, bool)
	SendDatagram([]byte) error
	Teardown()
}

// SessionInfo is a read-only view for APIs.
type SessionInfo struct {
	ID    SessionID `json:"id"`
	State string    `json:"state"`
}
