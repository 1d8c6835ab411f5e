package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/dkeye/Bounce/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	id    core.SessionID
	state core.State
}

func (s *stubSession) ID() core.SessionID                   { return s.id }
func (s *stubSession) State() core.State                    { return s.state }
func (s *stubSession) GroundTruth() (domain.Position, bool) { return domain.Position{}, false }
func (s *stubSession) SendDatagram([]byte) error            { return nil }
func (s *stubSession) Teardown()                            {}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := &stubSession{id: "a", state: core.StateIdle}

	require.True(t, r.Add(s))
	assert.False(t, r.Add(s))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, []core.SessionInfo{{ID: "a", State: "idle"}}, r.List())

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := core.SessionID(fmt.Sprintf("s-%02d", i))
			r.Add(&stubSession{id: sid})
			_, _ = r.Get(sid)
			_ = r.List()
			if i%2 == 0 {
				r.Remove(sid)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, r.Len())
	list := r.List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}
