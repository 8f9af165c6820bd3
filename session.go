package gridsession

import (
	"context"
	"sync"
	"time"
)

// Session represents a user session that may be replicated across nodes.
type Session struct {
	ID           string
	Values       map[string]any
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
	MaxInactive  int // Maximum inactivity in seconds before the session expires.

	mu      sync.Mutex
	encoded []byte // Cached gob encoding, set by Manager.Save for the store to reuse.
	isNew   bool
}

// Store defines the interface for session persistence.
type Store interface {
	// Get retrieves a session by its ID.
	Get(ctx context.Context, id string) (*Session, error)
	// Save saves a session to the store.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session from the store.
	Delete(ctx context.Context, id string) error
	// Cleanup removes expired sessions from the store.
	Cleanup(ctx context.Context) error
	// Close closes the store.
	Close() error
}

// Set stores a value under the given attribute name.
func (s *Session) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[name] = value
}

// Get returns the value stored under the given attribute name.
func (s *Session) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Values[name]
	return v, ok
}

// Delete removes the attribute with the given name.
func (s *Session) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Values, name)
}

// Clear removes all attributes from the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.Values)
}

// AttributeNames returns a snapshot of the attribute names currently set.
// The snapshot is safe to iterate while other goroutines mutate the session.
func (s *Session) AttributeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.Values))
	for name := range s.Values {
		names = append(names, name)
	}
	return names
}

// Touch updates the last-accessed time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessed = time.Now()
}

// IsNew reports whether the session was created during the current request
// rather than loaded from the store.
func (s *Session) IsNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isNew
}
