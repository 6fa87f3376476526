// Package snapshot persists the last-known calendar state used as the
// diff baseline.
package snapshot

import (
	"context"
	"sync"

	"github.com/quantumlife/cadence/internal/core"
)

// Store holds the authoritative snapshot for a user. Replace is atomic:
// readers see either the previous snapshot or the new one, never a
// partially-updated state.
type Store interface {
	// Load returns the stored snapshot, or core.ErrSnapshotNotFound.
	Load(ctx context.Context) (*core.Snapshot, error)

	// Replace swaps in a new snapshot wholesale.
	Replace(ctx context.Context, snap *core.Snapshot) error

	// Clear removes the stored snapshot.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the snapshot in memory. The swap is a pointer
// replacement under the mutex; snapshots themselves are never mutated.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *core.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored snapshot.
func (s *MemoryStore) Load(ctx context.Context) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, core.ErrSnapshotNotFound
	}
	return s.snap.Clone(), nil
}

// Replace swaps in a new snapshot.
func (s *MemoryStore) Replace(ctx context.Context, snap *core.Snapshot) error {
	clone := snap.Clone()
	s.mu.Lock()
	s.snap = clone
	s.mu.Unlock()
	return nil
}

// Clear removes the stored snapshot.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
	return nil
}
