package anchor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for one-shot CLI runs that do
// not have a database configured.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints []*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, logName string, records int, head, algorithm string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest := s.latestLocked(logName); latest != nil && records < latest.Records {
		return nil, fmt.Errorf("%w: %d < %d", ErrRegression, records, latest.Records)
	}

	prevIndex, prevHash := -1, GenesisHash
	if n := len(s.checkpoints); n > 0 {
		prevIndex, prevHash = s.checkpoints[n-1].Index, s.checkpoints[n-1].Hash
	}
	cp := newCheckpoint(prevIndex, prevHash, logName, records, head, algorithm)
	s.checkpoints = append(s.checkpoints, cp)
	return cp, nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, logName string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp := s.latestLocked(logName); cp != nil {
		return cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) latestLocked(logName string) *Checkpoint {
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		if s.checkpoints[i].LogName == logName {
			return s.checkpoints[i]
		}
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, logName string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.checkpoints[i].LogName == logName {
			out = append(out, s.checkpoints[i])
		}
	}
	return out, nil
}

// Verify implements Store.
func (s *MemoryStore) Verify(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prevHash := GenesisHash
	for _, curr := range s.checkpoints {
		if err := verifyLink(prevHash, curr); err != nil {
			return err
		}
		prevHash = curr.Hash
	}
	return nil
}
