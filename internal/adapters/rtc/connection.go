package rtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection is a send-only peer connection with one video track.
type WebRTCConnection struct {
	pc    *webrtc.PeerConnection
	sid   core.SessionID
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
}

// DefaultWebRTCConfig has no ICE servers; the client is expected to reach the
// server through host candidates.
func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{}
}

// MimeType maps a codec name such as "H264" to its RTP mime type.
func MimeType(codec string) (string, error) {
	switch strings.ToUpper(codec) {
	case "H264":
		return webrtc.MimeTypeH264, nil
	case "VP8":
		return webrtc.MimeTypeVP8, nil
	case "VP9":
		return webrtc.MimeTypeVP9, nil
	case "AV1":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported video codec %q", codec)
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, sid core.SessionID, codec string) (*WebRTCConnection, error) {
	mime, err := MimeType(codec)
	if err != nil {
		return nil, err
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", "bounce")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, sid: sid, track: track}

	// RTCP has to be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("module", "webrtc").Str("sid", string(sid)).Msg("rtcp reader stopped")
				}
				return
			}
		}
	}()

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})
	return c, nil
}

// NewPeerFactory returns a session.PeerFactory building WebRTCConnections.
func NewPeerFactory(cfg webrtc.Configuration, codec string) session.PeerFactory {
	return func(sid core.SessionID) (core.PeerConnection, error) {
		return NewWebRTCConnection(cfg, sid, codec)
	}
}

func (c *WebRTCConnection) SetRemoteDescription(offer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(offer)
}

// CreateAnswer creates and applies the local answer. Candidates are trickled,
// so it does not wait for gathering to complete.
func (c *WebRTCConnection) CreateAnswer() (*webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *WebRTCConnection) VideoTrack() core.SampleWriter { return c.track }

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	return nil
}
