// internal/checkpoint/memory.go
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// MemoryStore keeps checkpoints in process. Entries older than the TTL are
// treated as missing.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]agent.Checkpoint
}

// NewMemoryStore creates a MemoryStore. A ttl of zero keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]agent.Checkpoint),
	}
}

func (s *MemoryStore) Save(_ context.Context, cp agent.Checkpoint) error {
	if cp.RunID == "" {
		return errMissingRunID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.items[cp.RunID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (agent.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.items[runID]
	if !ok {
		return agent.Checkpoint{}, agent.ErrCheckpointMiss
	}
	if s.ttl > 0 && s.now().Sub(cp.CreatedAt) > s.ttl {
		delete(s.items, runID)
		return agent.Checkpoint{}, agent.ErrCheckpointMiss
	}
	return cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	delete(s.items, runID)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
