//go:build !gst

package rtc

import (
	"errors"
	"time"

	"github.com/dkeye/Bounce/internal/domain"
)

const gstAvailable = false

// GstEncoder is only functional in binaries built with -tags gst.
type GstEncoder struct{}

func newGstEncoder(EncoderConfig) (*GstEncoder, error) {
	return nil, errors.New("built without gstreamer support (-tags gst)")
}

func (*GstEncoder) Encode(domain.Frame, time.Duration) ([]byte, error) {
	return nil, errors.New("built without gstreamer support (-tags gst)")
}

func (*GstEncoder) Close() error { return nil }
