package promo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

const (
	bloomMinCapacity = 1024
	bloomFPR         = 0.001

	watchRetryDelay = 5 * time.Second
)

// Source is a Store that can also enumerate every known code.
type Source interface {
	Store
	ListCodes(ctx context.Context) ([]string, error)
}

// Watcher streams codes that became active in the store.
type Watcher interface {
	// WatchCodes blocks until ctx is done or the feed breaks. ready is called
	// once the feed is live; codes activated before that are not delivered.
	// A ready error aborts the watch. fn receives every code activated after
	// ready was called.
	WatchCodes(ctx context.Context, ready func() error, fn func(code string)) error
}

// BloomStore answers FindByCode for unknown codes from an in-memory bloom
// filter so that guessed codes never reach the database.
//
// A filter miss is only trusted while the filter is current: built after a
// live Watcher feed was established and updated from that feed since. In
// every other state lookups pass through to the Source.
type BloomStore struct {
	Source

	refreshMu sync.Mutex

	mu         sync.RWMutex
	filter     *bloom.BloomFilter
	current    bool
	refreshing bool
	pending    []string
}

// NewBloomStore wraps src. Run keeps the filter current.
func NewBloomStore(src Source) *BloomStore {
	return &BloomStore{Source: src}
}

// FindByCode implements Store.
func (s *BloomStore) FindByCode(ctx context.Context, code string) (*Promocode, error) {
	key := strings.ToUpper(strings.TrimSpace(code))

	s.mu.RLock()
	miss := s.current && s.filter != nil && !s.filter.TestString(key)
	s.mu.RUnlock()

	if miss {
		return nil, ErrNotFound
	}
	return s.Source.FindByCode(ctx, key)
}

// Current reports whether filter misses are trusted.
func (s *BloomStore) Current() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Add records an activated code.
func (s *BloomStore) Add(code string) {
	key := strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter != nil {
		s.filter.AddString(key)
	}
	if s.refreshing {
		s.pending = append(s.pending, key)
	}
}

// Refresh rebuilds the filter from the full code list. Codes passed to Add
// while the list is loading are carried into the new filter.
func (s *BloomStore) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	s.refreshing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.pending = nil
		s.mu.Unlock()
	}()

	codes, err := s.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list promocodes")
	}

	capacity := uint(max(len(codes)*2, bloomMinCapacity))
	filter := bloom.NewWithEstimates(capacity, bloomFPR)
	for _, c := range codes {
		filter.AddString(strings.ToUpper(c))
	}

	s.mu.Lock()
	for _, key := range s.pending {
		filter.AddString(key)
	}
	s.filter = filter
	s.mu.Unlock()
	return nil
}

// Run keeps the filter current until ctx is cancelled. When the Source is a
// Watcher its feed is followed and re-established after failures. The filter
// is also rebuilt every interval to drop deactivated codes. Failed
// refreshes keep the previous filter.
func (s *BloomStore) Run(ctx context.Context, interval time.Duration, lg *zap.Logger) {
	var wg sync.WaitGroup
	if w, ok := s.Source.(Watcher); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watch(ctx, w, lg)
		}()
	} else {
		lg.Info("Promocode source has no change feed, filter is not used")
	}
	defer wg.Wait()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				lg.Warn("Promocode filter refresh failed", zap.Error(err))
			}
		}
	}
}

func (s *BloomStore) watch(ctx context.Context, w Watcher, lg *zap.Logger) {
	for {
		err := w.WatchCodes(ctx, func() error {
			// Codes activated before the feed went live are picked up here.
			if err := s.Refresh(ctx); err != nil {
				return err
			}
			s.setCurrent(true)
			return nil
		}, s.Add)
		s.setCurrent(false)

		if ctx.Err() != nil {
			return
		}
		lg.Warn("Promocode change feed lost, passing lookups through", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

func (s *BloomStore) setCurrent(v bool) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}
