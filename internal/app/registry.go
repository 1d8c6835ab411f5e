package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/rs/zerolog/log"
)

// Registry is the only structure shared across sessions. A session is added
// on handshake and removed on teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]core.Session),
	}
}

// Add registers sess. It reports false if the id is already taken.
func (r *Registry) Add(sess core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID()]; ok {
		return false
	}
	r.sessions[sess.ID()] = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Msg("bound session")
	return true
}

func (r *Registry) Get(sid core.SessionID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// Remove drops sid and reports whether it was present.
func (r *Registry) Remove(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions ordered by id.
func (r *Registry) Snapshot() []core.Session {
	r.mu.RLock()
	out := make([]core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// List is a read-only view for APIs.
func (r *Registry) List() []core.SessionInfo {
	sessions := r.Snapshot()
	out := make([]core.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, core.SessionInfo{ID: s.ID(), State: s.State().String()})
	}
	return out
}
