package framesource

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/dkeye/Bounce/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// Sink persists frames. Writes happen off the production goroutine; a failing
// sink never stalls production.
type Sink interface {
	Write(frame domain.Frame, seq uint64) error
}

// Sink formats accepted by NewSink.
const (
	FormatPNG  = "png"
	FormatZstd = "zstd"
)

// NewSink creates dir and returns a sink writing one file per frame into it.
func NewSink(format, dir string) (Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	switch format {
	case FormatPNG, "":
		return &PNGSink{Dir: dir}, nil
	case FormatZstd:
		return NewZstdSink(dir)
	default:
		return nil, fmt.Errorf("unknown frame sink format %q", format)
	}
}

// PNGSink writes frame_<seq>.png files.
type PNGSink struct {
	Dir string
}

func (p *PNGSink) Write(frame domain.Frame, seq uint64) error {
	if !frame.Valid() {
		return fmt.Errorf("invalid frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Data))
	}
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i < len(frame.Data); i, j = i+domain.BytesPerPixel, j+4 {
		img.Pix[j] = frame.Data[i]
		img.Pix[j+1] = frame.Data[i+1]
		img.Pix[j+2] = frame.Data[i+2]
		img.Pix[j+3] = 0xff
	}

	name := filepath.Join(p.Dir, fmt.Sprintf("frame_%05d.png", seq))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ZstdSink writes the raw RGB24 buffer compressed with zstd. The frame
// dimensions are part of the file name.
type ZstdSink struct {
	dir string
	enc *zstd.Encoder
}

func NewZstdSink(dir string) (*ZstdSink, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &ZstdSink{dir: dir, enc: enc}, nil
}

func (z *ZstdSink) Write(frame domain.Frame, seq uint64) error {
	if !frame.Valid() {
		return fmt.Errorf("invalid frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Data))
	}
	data := z.enc.EncodeAll(frame.Data, make([]byte, 0, len(frame.Data)/8))
	name := filepath.Join(z.dir, fmt.Sprintf("frame_%05d_%dx%d.rgb.zst", seq, frame.Width, frame.Height))
	return os.WriteFile(name, data, 0o644)
}

func (z *ZstdSink) Close() error {
	return z.enc.Close()
}
