package dispatch

import (
	"sync"

	"github.com/ashureev/chatdesk/internal/session"
)

// InFlight marks (chat, user) keys that have a non-idempotent mutation
// running. Check and insert happen under one lock.
type InFlight struct {
	mu   sync.Mutex
	held map[session.Key]struct{}
}

// NewInFlight creates an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{held: make(map[session.Key]struct{})}
}

// TryAcquire marks key and reports true, or reports false when key is
// already marked.
func (f *InFlight) TryAcquire(key session.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return false
	}
	f.held[key] = struct{}{}
	return true
}

// Release removes the mark for key.
func (f *InFlight) Release(key session.Key) {
	f.mu.Lock()
	delete(f.held, key)
	f.mu.Unlock()
}

// holding reports whether key is marked.
func (f *InFlight) holding(key session.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[key]
	return ok
}
