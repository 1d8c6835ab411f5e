package framesource

import (
	"testing"

	"github.com/dkeye/Bounce/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectoryReturnsAfterReflectionPeriod(t *testing.T) {
	// x spans [10,90] at 5px/tick: period 32. y spans [10,70] at 3px/tick: period 40.
	cfg := Config{Width: 100, Height: 80, FPS: 30, Radius: 10, VX: 5, VY: 3}
	m := newMotion(cfg)
	start := m.position()

	for i := 0; i < 160; i++ {
		m.step()
	}

	assert.InDelta(t, start.X, m.position().X, 1e-9)
	assert.InDelta(t, start.Y, m.position().Y, 1e-9)
	assert.Equal(t, cfg.VX, m.vx)
	assert.Equal(t, cfg.VY, m.vy)
}

func TestDefaultTrajectoryXPeriod(t *testing.T) {
	m := newMotion(DefaultConfig())
	x0 := m.x
	for i := 0; i < 240; i++ {
		m.step()
	}
	assert.InDelta(t, x0, m.x, 1e-9)
}

func TestMotionStaysInsideBounds(t *testing.T) {
	cfg := Config{Width: 64, Height: 48, FPS: 30, Radius: 4, VX: 37, VY: -101}
	m := newMotion(cfg)
	for i := 0; i < 10_000; i++ {
		m.step()
		require.GreaterOrEqual(t, m.x, m.minX)
		require.LessOrEqual(t, m.x, m.maxX)
		require.GreaterOrEqual(t, m.y, m.minY)
		require.LessOrEqual(t, m.y, m.maxY)
	}
}

func TestReflectFlipsOnContact(t *testing.T) {
	p, v := reflect(90, 5, 10, 90)
	assert.Equal(t, 90.0, p)
	assert.Equal(t, -5.0, v)

	p, v = reflect(93, 5, 10, 90)
	assert.Equal(t, 87.0, p)
	assert.Equal(t, -5.0, v)

	p, v = reflect(50, 5, 10, 90)
	assert.Equal(t, 50.0, p)
	assert.Equal(t, 5.0, v)
}

func TestRenderDrawsDisc(t *testing.T) {
	f := render(40, 30, 5, domain.Position{X: 20, Y: 15})
	require.True(t, f.Valid())

	px := func(x, y int) []byte {
		i := (y*f.Width + x) * domain.BytesPerPixel
		return f.Data[i : i+3]
	}
	assert.Equal(t, []byte{0, 255, 0}, px(20, 15))
	assert.Equal(t, []byte{0, 255, 0}, px(25, 15))
	assert.Equal(t, []byte{0, 0, 0}, px(26, 15))
	assert.Equal(t, []byte{0, 0, 0}, px(0, 0))
}

func TestRenderClipsAtEdges(t *testing.T) {
	assert.NotPanics(t, func() {
		f := render(10, 10, 8, domain.Position{X: 0, Y: 9})
		assert.True(t, f.Valid())
	})
}
