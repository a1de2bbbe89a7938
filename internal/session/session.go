// Package session holds per-user conversation state: the session identifier,
// the ordered list of loaded sources and the chat history.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/llm"
)

// DefaultSourceLimit is the maximum number of sources per session.
const DefaultSourceLimit = 10

// Session is one user's conversation. The ID never changes, including
// across Reset.
type Session struct {
	id    string
	limit int

	// ingest serialises ingestion and reset for this session.
	ingest sync.Mutex

	mu       sync.RWMutex
	sources  []string
	history  []llm.Message
	lastUsed time.Time
	retired  bool
}

// New starts a session with a fresh random 128-bit identifier.
func New(limit int) *Session {
	if limit <= 0 {
		limit = DefaultSourceLimit
	}
	return &Session{id: uuid.NewString(), limit: limit, lastUsed: time.Now()}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Limit() int { return s.limit }

// Sources returns the loaded origins in the order they were added.
func (s *Session) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sources)
}

// Admit reports whether origin could be added right now.
func (s *Session) Admit(origin string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admitLocked(origin)
}

func (s *Session) admitLocked(origin string) error {
	if slices.Contains(s.sources, origin) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSource, origin)
	}
	if len(s.sources) >= s.limit {
		return fmt.Errorf("%w: %d of %d", domain.ErrSourceLimitExceeded, len(s.sources), s.limit)
	}
	return nil
}

// AddSource records origin as loaded. Call it only once the source's
// vectors are stored.
func (s *Session) AddSource(origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admitLocked(origin); err != nil {
		return err
	}
	s.sources = append(s.sources, origin)
	return nil
}

func (s *Session) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// AppendExchange records a completed question and answer.
func (s *Session) AppendExchange(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
}

// ClearHistory drops the transcript and keeps the sources.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Clear drops sources and history. The caller is responsible for the
// session's vector partition.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = nil
	s.history = nil
}

// Retire marks the session as expired. Hold the ingest lock while calling it
// so no ingestion is in flight.
func (s *Session) Retire() {
	s.mu.Lock()
	s.retired = true
	s.mu.Unlock()
}

func (s *Session) Retired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retired
}

// LockIngest takes the per-session ingestion lock and returns its release.
func (s *Session) LockIngest() (unlock func()) {
	s.ingest.Lock()
	return s.ingest.Unlock
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}
