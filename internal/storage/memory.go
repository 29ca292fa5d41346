package storage

import (
	"context"
	"sync"
	"time"

	"consentgate/internal/consent"
)

type memoryEntry struct {
	record    *consent.Record
	tokenHash string
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore is the session-backed adapter for single-process deployments
// and tests: the cookie carries only an HMAC-sealed random token, the records
// stay server-side in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	secret  []byte
	clock   func() time.Time
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock sets the clock function for testability.
func WithMemoryClock(clock func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewMemoryStore(secret string, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		secret:  []byte(secret),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) Store(_ context.Context, record *consent.Record) (string, error) {
	token, err := s.GenerateToken()
	if err != nil {
		return "", err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryEntry{
		record:    record,
		tokenHash: HashToken(s.secret, token),
		createdAt: now,
		updatedAt: now,
	}
	return token, nil
}

// Retrieve verifies both the token HMAC suffix and the stored token hash
// before returning data; any mismatch reads as "no consent".
func (s *MemoryStore) Retrieve(_ context.Context, token string) (*consent.Record, error) {
	if !VerifyToken(s.secret, token) {
		return nil, nil
	}
	s.mu.RLock()
	entry, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !hashTokenEqual(entry.tokenHash, HashToken(s.secret, token)) {
		return nil, nil
	}
	return entry.record, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[token]; !ok {
		return false, nil
	}
	delete(s.entries, token)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[token]
	return ok, nil
}

func (s *MemoryStore) Update(_ context.Context, token string, record *consent.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return false, nil
	}
	entry.record = record
	entry.updatedAt = s.clock()
	s.entries[token] = entry
	return true, nil
}

func (s *MemoryStore) GenerateToken() (string, error) {
	return MintToken(s.secret, DefaultTokenLength)
}

// Cleanup drops entries older than maxAge and returns how many were removed.
func (s *MemoryStore) Cleanup(maxAge time.Duration) int {
	cutoff := s.clock().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, entry := range s.entries {
		if entry.createdAt.Before(cutoff) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
