package broker

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ein-bandit/unity-webrtc-control/internal/webrtcpeer"
)

// Registry maps client identifiers to their live session. It holds at most
// one session per identifier.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*webrtcpeer.Session
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*webrtcpeer.Session)}
}

// CreateIfAbsent returns the session for id, creating it with newSession when
// none exists. Exactly one of any number of concurrent callers for the same id
// sees created=true. After RemoveAll it returns (nil, false).
func (r *Registry) CreateIfAbsent(id uuid.UUID, newSession func() *webrtcpeer.Session) (s *webrtcpeer.Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s = newSession()
	r.sessions[id] = s
	return s, true
}

func (r *Registry) Get(id uuid.UUID) (*webrtcpeer.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the entry for id and cancels its session. Missing entries
// are ignored.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// RemoveAll cancels every session, clears the registry and refuses new
// entries. It waits for each session to finish releasing its resources or for
// ctx to end, whichever comes first.
func (r *Registry) RemoveAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*webrtcpeer.Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) IDs() []uuid.UUID {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// release drops the entry for id only if it still points at s, so a session
// exiting late never removes a newer one.
func (r *Registry) release(id uuid.UUID, s *webrtcpeer.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		return true
	}
	return false
}
