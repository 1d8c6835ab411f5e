package session

import "github.com/pion/webrtc/v4"

// DefaultCandidateBuffer is the number of remote candidates kept for a
// session that has no negotiation context yet.
const DefaultCandidateBuffer = 32

// CandidateBuffer is a bounded FIFO of remote ICE candidates. When full, the
// oldest entry is dropped. It is owned by the session event loop.
type CandidateBuffer struct {
	items []webrtc.ICECandidateInit
	limit int
}

func NewCandidateBuffer(limit int) *CandidateBuffer {
	if limit <= 0 {
		limit = DefaultCandidateBuffer
	}
	return &CandidateBuffer{limit: limit}
}

// Push appends c and returns the evicted candidate, if any.
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) (webrtc.ICECandidateInit, bool) {
	var evicted webrtc.ICECandidateInit
	dropped := false
	if len(b.items) >= b.limit {
		evicted, dropped = b.items[0], true
		b.items = b.items[1:]
	}
	b.items = append(b.items, c)
	return evicted, dropped
}

// Drain returns the buffered candidates in arrival order and empties the buffer.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	out := b.items
	b.items = nil
	return out
}

func (b *CandidateBuffer) Len() int { return len(b.items) }
