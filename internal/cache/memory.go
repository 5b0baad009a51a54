package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultMemoryExpiration = 10 * time.Minute
	defaultMemoryCleanup    = 20 * time.Minute
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with an in-process go-cache instance.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreFrom(gocache.New(defaultMemoryExpiration, defaultMemoryCleanup))
}

// NewMemoryStoreFrom wraps an existing go-cache instance so it can be shared.
func NewMemoryStoreFrom(items *gocache.Cache) *MemoryStore {
	return &MemoryStore{items: items}
}

// IncrementWithTTL increments the counter for key, starting a fresh window when absent.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, expiresAt, found := s.items.GetWithExpiration(key)
	if !found {
		s.items.Set(key, int64(1), window)
		return 1, window, nil
	}

	count, err := s.items.IncrementInt64(key, 1)
	if err != nil {
		return 0, 0, err
	}

	remaining := window
	if !expiresAt.IsZero() {
		remaining = time.Until(expiresAt)
	}
	return count, remaining, nil
}
