package rtc

import (
	"fmt"
	"strings"

	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
)

const (
	BackendAuto = "auto"
	BackendGst  = "gst"
	BackendPCM  = "pcm"
)

// codecs GstEncoder has a pipeline for
var gstCodecs = map[string]bool{"H264": true, "VP8": true, "VP9": true}

type EncoderConfig struct {
	Codec   string
	Backend string
	Width   int
	Height  int
	FPS     int
}

// NewEncoderFactory resolves cfg.Backend to an encoder able to produce
// cfg.Codec and returns a per-session factory plus the backend chosen. It
// fails when no compiled-in backend can produce the codec, so the server never
// advertises a codec it cannot send.
func NewEncoderFactory(cfg EncoderConfig) (session.EncoderFactory, string, error) {
	codec := strings.ToUpper(cfg.Codec)
	if _, err := MimeType(codec); err != nil {
		return nil, "", err
	}
	cfg.Codec = codec

	backend := strings.ToLower(cfg.Backend)
	if backend == "" || backend == BackendAuto {
		switch {
		case gstAvailable && gstCodecs[codec]:
			backend = BackendGst
		case codec == "H264":
			backend = BackendPCM
		default:
			return nil, "", fmt.Errorf("no encoder for codec %s in this build (gstreamer support: %t)", codec, gstAvailable)
		}
	}

	switch backend {
	case BackendGst:
		if !gstAvailable {
			return nil, "", fmt.Errorf("encoder %q requested but the binary was built without -tags gst", backend)
		}
		if !gstCodecs[codec] {
			return nil, "", fmt.Errorf("encoder %q cannot produce %s", backend, codec)
		}
		return func(core.SessionID) (core.Encoder, error) {
			enc, err := newGstEncoder(cfg)
			if err != nil {
				return nil, err
			}
			return enc, nil
		}, backend, nil
	case BackendPCM:
		if codec != "H264" {
			return nil, "", fmt.Errorf("encoder %q only produces H264, not %s", backend, codec)
		}
		return func(core.SessionID) (core.Encoder, error) { return &PCMEncoder{}, nil }, backend, nil
	default:
		return nil, "", fmt.Errorf("unknown encoder backend %q", cfg.Backend)
	}
}
