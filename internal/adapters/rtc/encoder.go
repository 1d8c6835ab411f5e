package rtc

import (
	"fmt"

	"github.com/dkeye/Bounce/internal/domain"
)

// ToI420 converts an RGB24 frame to planar YUV 4:2:0 (BT.601, studio range).
// Chroma planes are (w+1)/2 by (h+1)/2.
func ToI420(f domain.Frame) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Data))
	}
	w, h := f.Width, f.Height
	cw, ch := (w+1)/2, (h+1)/2
	out := make([]byte, w*h+2*cw*ch)
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+cw*ch]
	vPlane := out[w*h+cw*ch:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * domain.BytesPerPixel
			r, g, b := int(f.Data[i]), int(f.Data[i+1]), int(f.Data[i+2])
			yPlane[y*w+x] = byte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, b, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= w || y >= h {
						continue
					}
					i := (y*w + x) * domain.BytesPerPixel
					r += int(f.Data[i])
					g += int(f.Data[i+1])
					b += int(f.Data[i+2])
					n++
				}
			}
			r, g, b = r/n, g/n, b/n
			uPlane[cy*cw+cx] = byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			vPlane[cy*cw+cx] = byte(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
	return out, nil
}
