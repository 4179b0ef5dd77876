package cache

import (
	"context"
	"fmt"
	"time"

	"roombook/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBackend keeps entries in a bounded LRU. Reads use Peek, so the
// eviction order is the write order: the oldest entry goes first.
type MemoryBackend struct {
	entries *lru.Cache[string, domain.CacheEntry]
}

func NewMemoryBackend(capacity int) (*MemoryBackend, error) {
	if capacity <= 0 {
		capacity = 500
	}
	entries, err := lru.New[string, domain.CacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryBackend{entries: entries}, nil
}

func (m *MemoryBackend) Load(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	entry, ok := m.entries.Peek(key)
	return entry, ok, nil
}

func (m *MemoryBackend) Store(ctx context.Context, entry domain.CacheEntry) error {
	// Remove first so an overwrite moves the key to the newest position.
	m.entries.Remove(entry.Key)
	m.entries.Add(entry.Key, entry)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *MemoryBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for _, key := range m.entries.Keys() {
		if matchesPrefix(key, prefix) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, key := range m.entries.Keys() {
		entry, ok := m.entries.Peek(key)
		if ok && entry.StoredAt.Before(cutoff) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Len(ctx context.Context) (int, error) {
	return m.entries.Len(), nil
}
