package bookmark

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a Store that lives for the process.
type Memory struct {
	mu sync.Mutex
	m  map[string]Bookmark
}

// NewMemory returns an empty store.
func NewMemory() *Memory { return &Memory{m: make(map[string]Bookmark)} }

func (s *Memory) Save(_ context.Context, b Bookmark) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[b.DocID] = b
	return nil
}

func (s *Memory) Get(_ context.Context, docID string) (Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[docID]
	if !ok {
		return Bookmark{}, ErrNotFound
	}
	return b, nil
}

func (s *Memory) List(_ context.Context, limit int) ([]Bookmark, error) {
	s.mu.Lock()
	out := make([]Bookmark, 0, len(s.m))
	for _, b := range s.m {
		out = append(out, b)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Bookmark) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.DocID, b.DocID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, docID)
	return nil
}

func (s *Memory) Close() error { return nil }
