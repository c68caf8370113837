package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps the latest snapshot per service in a mutex-guarded
// map. It is safe for concurrent use and is the default backend for
// single-instance deployments; use RedisStore when snapshots must be
// visible across replicas.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// Put stores a snapshot, replacing any previous snapshot for the same
// service.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Service == "" {
		return errors.New("snapshot service cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Service] = snapshot
	return nil
}

// GetLatest retrieves the most recent snapshot for a service. The second
// return value reports whether one exists.
func (s *MemoryStore) GetLatest(ctx context.Context, service string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, found := s.snapshots[service]
	return snapshot, found, nil
}

// Len returns the number of services with a stored snapshot. Primarily
// useful for tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
