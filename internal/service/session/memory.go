package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurosync-os/backend/internal/model/chat"
)

type memoryEntry struct {
	session chat.Session
	turns   []chat.Turn
	nextSeq int64
}

// MemoryStore keeps sessions in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create provisions an empty session.
func (s *MemoryStore) Create(_ context.Context) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Memory:    map[string]any{},
	}

	s.mu.Lock()
	s.sessions[session.ID] = &memoryEntry{session: session, turns: make([]chat.Turn, 0, 16), nextSeq: 1}
	s.mu.Unlock()

	return session.Clone(), nil
}

// Get retrieves a session by identifier.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return entry.session.Clone(), nil
}

// Append records turns and merges memory in one step, creating the session
// on first use. The new history slice is built before it is published so a
// validation failure leaves the previous state untouched.
func (s *MemoryStore) Append(_ context.Context, sessionID string, turns []chat.Turn, memory map[string]any) error {
	if err := validateAppend(sessionID, turns); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{
			session: chat.Session{ID: sessionID, CreatedAt: now, Memory: map[string]any{}},
			nextSeq: 1,
		}
	}

	next := make([]chat.Turn, len(entry.turns), len(entry.turns)+len(turns))
	copy(next, entry.turns)
	seq := entry.nextSeq
	for _, t := range turns {
		t = t.Clone()
		t.SessionID = sessionID
		t.Seq = seq
		seq++
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		next = append(next, t)
	}

	entry.turns = next
	entry.nextSeq = seq
	entry.session.UpdatedAt = now
	entry.session.Memory = chat.MergeMemory(chat.CloneMemory(entry.session.Memory), memory)
	s.sessions[sessionID] = entry
	return nil
}

// Read returns the last window turns (all when window <= 0).
func (s *MemoryStore) Read(_ context.Context, sessionID string, window int) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	src := tail(entry.turns, window)
	copied := make([]chat.Turn, len(src))
	for i, t := range src {
		copied[i] = t.Clone()
	}
	return copied, nil
}

// PutMemory merges updates into the session's working memory.
func (s *MemoryStore) PutMemory(_ context.Context, sessionID string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	entry.session.Memory = chat.MergeMemory(chat.CloneMemory(entry.session.Memory), updates)
	entry.session.UpdatedAt = s.now()
	return nil
}

// Expire drops a session and its history.
func (s *MemoryStore) Expire(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Sweep evicts sessions whose last activity is before cutoff.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, entry := range s.sessions {
		if entry.session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
