package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

// KeyStore keeps emitted tokens addressable by secure value until they age out.
// Get returns nil, nil when the value is unknown.
type KeyStore interface {
	Put(ctx context.Context, token models.RotatedToken, ttl time.Duration) error
	Get(ctx context.Context, secureValue string) (*models.RotatedToken, error)
}

const memorySweepInterval = time.Minute

type memoryKey struct {
	token   models.RotatedToken
	evictAt time.Time
}

// MemoryKeyStore is a process-local KeyStore. Expired entries are hidden from Get at once
// and swept from the map by the first write after each sweep interval.
type MemoryKeyStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryKey
	now       func() time.Time
	nextSweep time.Time
}

// NewMemoryKeyStore constructs an in-memory key store.
func NewMemoryKeyStore(clock func() time.Time) *MemoryKeyStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryKeyStore{entries: make(map[string]memoryKey), now: clock}
}

// Put stores the token for ttl.
func (s *MemoryKeyStore) Put(_ context.Context, token models.RotatedToken, ttl time.Duration) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(memorySweepInterval)
	}
	s.entries[token.SecureValue] = memoryKey{token: token, evictAt: now.Add(ttl)}
	return nil
}

func (s *MemoryKeyStore) sweep(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.evictAt) {
			delete(s.entries, key)
		}
	}
}

// Get returns the stored token or nil when unknown or evicted.
func (s *MemoryKeyStore) Get(_ context.Context, secureValue string) (*models.RotatedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[secureValue]
	if !ok || s.now().After(entry.evictAt) {
		return nil, nil
	}
	token := entry.token
	return &token, nil
}

// Len returns the number of stored entries, expired ones included until the next sweep.
func (s *MemoryKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
