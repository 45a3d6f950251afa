package session

import (
	"sync"

	"github.com/seedlink4go/seedlink4/internal/info"
)

// Hub tracks every live Session on a listener so the feed path can
// broadcast newly-created stations to sessions holding a still-standing
// wildcard pattern, and so INFO CONNECTIONS can snapshot active sessions.
// There is one Hub per listening port group, shared by every goroutine
// Run spawns for an accepted connection.
type Hub struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]struct{})}
}

// register adds s to the hub; called once from Session.Run.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

// unregister removes s; called when Session.Run returns.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// BroadcastStation notifies every registered session that name was just
// created by a feed connection, so sessions holding a matching wildcard
// STATION pattern can attach to it. The send is non-blocking: a session
// whose stationAvail channel is momentarily full misses this particular
// broadcast, which is tolerable since the station remains discoverable on
// any subsequent CAT or INFO STATIONS call.
func (h *Hub) BroadcastStation(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		select {
		case s.stationAvail <- name:
		default:
		}
	}
}

// Snapshot returns a ConnectionSummary for every registered session, used
// by INFO CONNECTIONS.
func (h *Hub) Snapshot() []info.ConnectionSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]info.ConnectionSummary, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s.connectionSummary())
	}
	return out
}

// connectionSummary builds this session's INFO CONNECTIONS row.
func (s *Session) connectionSummary() info.ConnectionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	station := ""
	var seq uint64
	if len(s.bindings) > 0 {
		station = s.bindings[0].name
		seq = s.bindings[0].cursor.CurrentSequence()
	}
	return info.ConnectionSummary{
		Station:     station,
		IP:          s.remoteIP,
		ClientID:    s.useragent,
		ConnectedAt: s.connectedAt,
		Sequence:    seq,
	}
}
