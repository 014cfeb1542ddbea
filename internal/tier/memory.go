// Package tier provides the built-in TierStore back-ends: an in-process
// map, a compressed local disk store, and an S3-compatible blob store.
package tier

import (
	"context"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/wavecache/wavecache/pkg/errors"
	"github.com/wavecache/wavecache/pkg/types"
)

// MemoryStore is the fastest tier: payloads held in process memory.
// Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ types.TierStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Read returns a copy of the stored payload.
func (s *MemoryStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "key %q not in memory tier", key).
			WithComponent("tier.memory").WithOperation("read")
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data under key.
func (s *MemoryStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[key] = stored
	s.mu.Unlock()
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// ListPresent returns all stored keys, sorted.
func (s *MemoryStore) ListPresent(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Checksum hashes the stored payload.
func (s *MemoryStore) Checksum(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return 0, errors.Newf(errors.ErrCodeObjectNotFound, "key %q not in memory tier", key).
			WithComponent("tier.memory").WithOperation("checksum")
	}
	return xxh3.Hash(data), nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
