package storage

import (
	"context"
	"sync"
	"time"
)

type sessionEntry struct {
	value     string
	storedAt  time.Time
	expiresAt time.Time // zero means no expiry
}

// SessionStore is a volatile KV that lives for the process lifetime. It is
// the same-session backup for the entitlement token.
type SessionStore struct {
	entries  map[string]sessionEntry
	mutex    sync.RWMutex
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSessionStore creates a session store. A positive ttl expires entries
// and starts a cleanup goroutine; stop it with Close.
func NewSessionStore(ttl time.Duration) *SessionStore {
	s := &SessionStore{
		entries:  make(map[string]sessionEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanup(ttl)
	}
	return s
}

// Get reads key
func (s *SessionStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry, time.Now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores key
func (s *SessionStore) Set(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	entry := sessionEntry{value: value, storedAt: now}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}
	s.entries[key] = entry
	return nil
}

// Delete removes key
func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of live entries
func (s *SessionStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	n := 0
	for _, entry := range s.entries {
		if !s.expired(entry, now) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine
func (s *SessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *SessionStore) expired(entry sessionEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && now.After(entry.expiresAt)
}

func (s *SessionStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mutex.Lock()
			now := time.Now()
			for key, entry := range s.entries {
				if s.expired(entry, now) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		case <-s.stopChan:
			return
		}
	}
}
