package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func withClock(s *Sender, c *fakeClock) *Sender {
	s.now, s.sleep = c.now, c.sleep
	return s
}

// tickingSource publishes a new snapshot each time it is read.
type tickingSource struct{ seq atomic.Uint64 }

func (s *tickingSource) Snapshot() *domain.Snapshot {
	n := s.seq.Add(1)
	return &domain.Snapshot{Frame: domain.Frame{Width: 1, Height: 1, Data: []byte{byte(n), 0, 0}}, Seq: n}
}

// staticSource never advances.
type staticSource struct{ snap *domain.Snapshot }

func (s staticSource) Snapshot() *domain.Snapshot { return s.snap }

func TestNextUnboundFailsClosed(t *testing.T) {
	s := New(10*time.Millisecond, 0)
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, core.ErrUnbound)
}

func TestNextPacesOnVirtualClock(t *testing.T) {
	interval := 100 * time.Millisecond
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := withClock(New(interval, 0), clock)
	s.Bind(&tickingSource{})
	start := clock.t

	for i := 0; i < 3; i++ {
		f, err := s.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, time.Duration(i)*interval, f.PTS)
		assert.Equal(t, start.Add(time.Duration(i)*interval), clock.t)
	}

	// The consumer is late by 150ms: the next call must not sleep and the
	// one after only for the residual to its own boundary.
	clock.t = clock.t.Add(150 * time.Millisecond)
	slept := len(clock.slept)
	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*interval, f.PTS)
	assert.Len(t, clock.slept, slept)

	f, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4*interval, f.PTS)
	assert.Equal(t, 50*time.Millisecond, clock.slept[len(clock.slept)-1])
	assert.Equal(t, start.Add(4*interval), clock.t)
}

func TestNextRepeatsLastFrameWhenSourceStalls(t *testing.T) {
	interval := 10 * time.Millisecond
	stall := 4 * time.Millisecond
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := withClock(New(interval, stall), clock)

	frame := domain.Frame{Width: 1, Height: 1, Data: []byte{9, 9, 9}}
	s.Bind(staticSource{snap: &domain.Snapshot{Frame: frame, Seq: 5}})

	first, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Repeated)

	var lastPTS time.Duration
	for i := 0; i < 3; i++ {
		before := clock.t
		f, err := s.Next(context.Background())
		require.NoError(t, err)
		assert.True(t, f.Repeated)
		assert.Equal(t, frame, f.Frame)
		assert.Equal(t, uint64(5), f.Seq)
		assert.Greater(t, f.PTS, lastPTS)
		lastPTS = f.PTS
		assert.LessOrEqual(t, clock.t.Sub(before), interval+stall)
	}
}

func TestNextPicksUpFreshSnapshotDuringStallWait(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := withClock(New(10*time.Millisecond, 8*time.Millisecond), clock)

	src := &switchSource{}
	src.set(&domain.Snapshot{Frame: domain.Frame{Width: 1, Height: 1, Data: []byte{1, 1, 1}}, Seq: 1})
	s.Bind(src)
	_, err := s.Next(context.Background())
	require.NoError(t, err)

	src.onRead = func(reads int) {
		if reads == 3 {
			src.set(&domain.Snapshot{Frame: domain.Frame{Width: 1, Height: 1, Data: []byte{2, 2, 2}}, Seq: 2})
		}
	}
	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, f.Repeated)
	assert.Equal(t, uint64(2), f.Seq)
}

type switchSource struct {
	mu     sync.Mutex
	snap   *domain.Snapshot
	reads  int
	onRead func(int)
}

func (s *switchSource) set(snap *domain.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *switchSource) Snapshot() *domain.Snapshot {
	s.mu.Lock()
	s.reads++
	reads, hook := s.reads, s.onRead
	s.mu.Unlock()
	if hook != nil {
		hook(reads)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func TestNextHonoursContext(t *testing.T) {
	s := New(time.Hour, 0)
	s.Bind(&tickingSource{})
	_, err := s.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type recorder struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *recorder) WriteSample(s media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type copyEncoder struct{ fail atomic.Bool }

func (e *copyEncoder) Encode(f domain.Frame, _ time.Duration) ([]byte, error) {
	if e.fail.Load() {
		return nil, errors.New("encoder busy")
	}
	return append([]byte(nil), f.Data...), nil
}

func TestRunStopsWhenUnbound(t *testing.T) {
	s := New(2*time.Millisecond, time.Millisecond)
	s.Bind(&tickingSource{})
	rec := &recorder{}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), &copyEncoder{}, rec) }()

	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, time.Millisecond)
	s.Unbind()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Unbind")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := 1; i < len(rec.samples); i++ {
		assert.True(t, rec.samples[i].Timestamp.After(rec.samples[i-1].Timestamp))
		assert.Equal(t, 2*time.Millisecond, rec.samples[i].Duration)
	}
}

func TestRunSkipsFramesTheEncoderRejects(t *testing.T) {
	s := New(time.Millisecond, 0)
	s.Bind(&tickingSource{})
	rec := &recorder{}
	enc := &copyEncoder{}
	enc.fail.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Run(ctx, enc, rec)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, rec.count())
}
