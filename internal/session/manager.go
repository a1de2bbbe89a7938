package session

import (
	"sync"
	"time"
)

// Manager tracks the live sessions of a multi-user front end.
type Manager struct {
	limit int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(limit int) *Manager {
	return &Manager{limit: limit, sessions: make(map[string]*Session)}
}

// Start creates and registers a new session.
func (m *Manager) Start() *Session {
	s := New(m.limit)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for a snapshot of the sessions until fn returns false.
func (m *Manager) Range(fn func(*Session) bool) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()
	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// Idle unregisters and returns the sessions not used within ttl.
func (m *Manager) Idle(ttl time.Duration, now time.Time) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > ttl {
			out = append(out, s)
			delete(m.sessions, id)
		}
	}
	return out
}
