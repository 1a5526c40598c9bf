package checkout

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a machine owned by one authenticated user.
type Session struct {
	ID        string
	Owner     string
	Machine   *Machine
	CreatedAt time.Time

	touched time.Time
}

// Registry keeps live checkout sessions and expires idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *Registry) Add(owner string, m *Machine) *Session {
	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		Machine:   m,
		CreatedAt: now,
		touched:   now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session when it exists and belongs to owner. Another
// user's session is reported as not found.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		return nil, ErrSessionNotFound
	}
	s.touched = r.now()
	return s, nil
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id, owner string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.Machine.Close()
	return nil
}

// Sweep closes sessions idle for longer than the TTL. Sessions with a
// network call in flight are left alone.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.touched.Before(cutoff) && s.Machine.Idle() {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Machine.Close()
	}
	if len(expired) > 0 {
		log.Printf("[CHECKOUT] [INFO] expired %d idle checkout sessions", len(expired))
	}
	return len(expired)
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session, used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Machine.Close()
	}
}
