package cases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps cases in process memory. Contents are lost on restart.
type MemoryStore struct {
	mutations

	mu    sync.RWMutex
	cases map[string]*Case
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{cases: make(map[string]*Case)}
	s.mutations = mutations{update: s.update, now: time.Now}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, details Details) (*Case, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := newCase(uuid.NewString(), details, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c
	return clone(c), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(c), nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Case, error) {
	s.mu.RLock()
	out := make([]*Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, clone(c))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) update(ctx context.Context, id string, fn func(*Case) error) (*Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := clone(c)
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.cases[id] = updated
	return clone(updated), nil
}

func (s *MemoryStore) Close() error { return nil }
