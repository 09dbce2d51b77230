package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	remaining int
	resetAt   time.Time
}

// MemoryStore keeps buckets in process memory. It suits single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// Take implements Store. A missing or elapsed bucket is refilled to
// rule.Points before the point is taken.
func (s *MemoryStore) Take(_ context.Context, key string, rule Rule) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{remaining: rule.Points, resetAt: now.Add(rule.Window)}
		s.buckets[key] = b
	}
	b.remaining--

	return Decision{
		Allowed:   b.remaining >= 0,
		Limit:     rule.Points,
		Remaining: max(b.remaining, 0),
		ResetAt:   b.resetAt,
	}, nil
}

// cleanup removes buckets whose window has elapsed.
func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		if !now.Before(b.resetAt) {
			delete(s.buckets, key)
		}
	}
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Run evicts expired buckets every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(s.now())
		}
	}
}
