package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when Valkey is not
// configured, and the store of choice in tests. Sessions vanish on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	sess     *Session
	expireAt time.Time
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{entries: make(map[string]*memoryEntry)}
	go ms.cleanupLoop()
	return ms
}

func (ms *MemoryStore) Get(ctx context.Context, phone string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	e, ok := ms.entries[phone]
	if !ok || time.Now().After(e.expireAt) {
		return nil, nil
	}
	copied := *e.sess
	return &copied, nil
}

func (ms *MemoryStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	sess.UpdatedAt = time.Now().UTC()
	copied := *sess
	ms.entries[sess.Phone] = &memoryEntry{sess: &copied, expireAt: time.Now().Add(ttl)}
	return nil
}

func (ms *MemoryStore) Delete(ctx context.Context, phone string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, phone)
	return nil
}

func (ms *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		ms.mu.Lock()
		for k, e := range ms.entries {
			if now.After(e.expireAt) {
				delete(ms.entries, k)
			}
		}
		ms.mu.Unlock()
	}
}
