package core

import (
	"time"

	"github.com/dkeye/Bounce/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PeerConnection is the negotiated peer media transport of one session.
type PeerConnection interface {
	SetRemoteDescription(webrtc.SessionDescription) error
	// CreateAnswer creates the local answer, applies it and returns the
	// resulting local description.
	CreateAnswer() (*webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnConnectionStateChange sets a callback for peer connection state events.
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// VideoTrack is the single outgoing video track.
	VideoTrack() SampleWriter
	Close() error
}

// SampleWriter accepts encoded media samples. *webrtc.TrackLocalStaticSample
// implements it.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// Encoder turns a raw frame into one encoded media frame.
type Encoder interface {
	Encode(frame domain.Frame, pts time.Duration) ([]byte, error)
}
