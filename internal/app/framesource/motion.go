package framesource

import "github.com/dkeye/Bounce/internal/domain"

// motion is a ball travelling at constant speed inside [min, max] on both
// axes. Touching or crossing a bound flips that velocity component; any
// overshoot is mirrored back so no distance is lost.
type motion struct {
	x, y       float64
	vx, vy     float64
	minX, maxX float64
	minY, maxY float64
}

func newMotion(cfg Config) motion {
	r := float64(cfg.Radius)
	return motion{
		x:    float64(cfg.Width / 2),
		y:    float64(cfg.Height / 2),
		vx:   cfg.VX,
		vy:   cfg.VY,
		minX: r,
		maxX: float64(cfg.Width) - r,
		minY: r,
		maxY: float64(cfg.Height) - r,
	}
}

func (m *motion) step() {
	m.x, m.vx = reflect(m.x+m.vx, m.vx, m.minX, m.maxX)
	m.y, m.vy = reflect(m.y+m.vy, m.vy, m.minY, m.maxY)
}

func (m *motion) position() domain.Position {
	return domain.Position{X: m.x, Y: m.y}
}

func reflect(p, v, lo, hi float64) (float64, float64) {
	if hi <= lo {
		return lo, v
	}
	for p < lo || p > hi {
		if p < lo {
			p = 2*lo - p
		} else {
			p = 2*hi - p
		}
		v = -v
	}
	if (p == lo && v < 0) || (p == hi && v > 0) {
		v = -v
	}
	return p, v
}

// render draws a filled green disc of radius r centred on pos onto a black
// RGB24 frame. A fresh buffer is allocated every call: published frames are
// immutable.
func render(width, height, r int, pos domain.Position) domain.Frame {
	f := domain.NewFrame(width, height)
	cx, cy := int(pos.X), int(pos.Y)
	r2 := r * r
	for y := max(cy-r, 0); y <= min(cy+r, height-1); y++ {
		dy := y - cy
		row := y * width
		for x := max(cx-r, 0); x <= min(cx+r, width-1); x++ {
			dx := x - cx
			if dx*dx+dy*dy <= r2 {
				f.Data[(row+x)*domain.BytesPerPixel+1] = 255
			}
		}
	}
	return f
}
