//go:build gst

package rtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Bounce/internal/domain"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const gstAvailable = true

var gstInit sync.Once

// GstEncoder pushes RGB frames through appsrc ! videoconvert ! <codec> !
// appsink and returns one compressed access unit per frame.
type GstEncoder struct {
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
	width    int
	height   int

	mu     sync.Mutex
	closed bool
}

func encoderElements(codec string) (string, error) {
	switch strings.ToUpper(codec) {
	case "H264":
		return "x264enc tune=zerolatency speed-preset=ultrafast key-int-max=60 bframes=0 ! " +
			"video/x-h264,profile=constrained-baseline,stream-format=byte-stream,alignment=au", nil
	case "VP8":
		return "vp8enc deadline=1 lag-in-frames=0 keyframe-max-dist=60 error-resilient=partitions", nil
	case "VP9":
		return "vp9enc deadline=1 lag-in-frames=0 keyframe-max-dist=60 row-mt=true", nil
	default:
		return "", fmt.Errorf("no gstreamer encoder for codec %q", codec)
	}
}

func newGstEncoder(cfg EncoderConfig) (*GstEncoder, error) {
	gstInit.Do(func() { gst.Init(nil) })

	enc, err := encoderElements(cfg.Codec)
	if err != nil {
		return nil, err
	}
	launch := fmt.Sprintf(
		"appsrc name=src is-live=true format=time do-timestamp=true "+
			"caps=video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! video/x-raw,format=I420 ! %s ! "+
			"appsink name=sink sync=false max-buffers=1",
		cfg.Width, cfg.Height, cfg.FPS, enc)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipeline: %w", err)
	}
	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsrc: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start encoder pipeline: %w", err)
	}
	return &GstEncoder{
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElem),
		sink:     app.SinkFromElement(sinkElem),
		width:    cfg.Width,
		height:   cfg.Height,
	}, nil
}

func (e *GstEncoder) Encode(f domain.Frame, _ time.Duration) ([]byte, error) {
	if !f.Valid() || f.Width != e.width || f.Height != e.height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d", f.Width, f.Height, e.width, e.height)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New("encoder closed")
	}

	if ret := e.src.PushBuffer(gst.NewBufferFromBytes(f.Data)); ret != gst.FlowOK {
		return nil, fmt.Errorf("appsrc push: %v", ret)
	}
	sample := e.sink.PullSample()
	if sample == nil {
		return nil, errors.New("encoder pipeline reached EOS")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("encoded sample without buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (e *GstEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.src.EndStream()
	return e.pipeline.SetState(gst.StateNull)
}
