package jetstream

import "sync/atomic"

// Session tracks the per-connection token and the monotonically increasing
// outbound message index (spec.md §4.G). A Session is created once the
// server accepts SessionCreate and lives until Client.Close or a fatal
// transport error.
type Session struct {
	token       string
	nextIndex   atomic.Uint64
	serverIndex atomic.Uint64
}

// newSession starts a Session with the given server-issued token. Index
// numbering starts at 1, matching the teacher's own convention of never
// handing out a zero-value id (atomic counters default to 0, so every
// allocator in this codebase pre-increments past the zero value).
func newSession(token string) *Session {
	s := &Session{token: token}
	return s
}

// Token returns the session token issued by the server on SessionCreate.
func (s *Session) Token() string { return s.token }

// NextIndex atomically allocates the next outbound message index.
// getIndexForMessage() in spec.md §4.G.
func (s *Session) NextIndex() uint64 { return s.nextIndex.Add(1) }

// ServerIndex returns the highest server-sent index this session has
// observed via an inbound Ping ack.
func (s *Session) ServerIndex() uint64 { return s.serverIndex.Load() }

// recordServerIndex advances the high-water mark if ack is newer.
func (s *Session) recordServerIndex(ack uint64) {
	for {
		cur := s.serverIndex.Load()
		if ack <= cur {
			return
		}
		if s.serverIndex.CompareAndSwap(cur, ack) {
			return
		}
	}
}
