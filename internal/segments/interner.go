// Package segments interns 10-dimensional segment tuples into dense,
// per-loader integer codes (spec §4.4), caching lookups in-process while
// remaining correct across process restarts and concurrent replicas.
package segments

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCollision is returned by Store.Insert when a sibling replica allocated
// the same code concurrently; the Service retries by re-reading.
var ErrCollision = errors.New("segments: unique constraint collision on insert")

// Tuple is the 10-dimensional segment key, nil entries compare equal to
// other nil entries (null-equals-null per spec §3).
type Tuple [10]*string

// key renders a Tuple into a comparable Go map key, treating nil and empty
// uniformly distinctly via a sentinel byte prefix per slot.
func (t Tuple) key() string {
	var b []byte
	for _, v := range t {
		if v == nil {
			b = append(b, 0)
		} else {
			b = append(b, 1)
			b = append(b, []byte(*v)...)
			b = append(b, 0xFF)
		}
	}
	return string(b)
}

// Store is the persistence seam the Service drives; implementations back it
// with the relational sink store.
type Store interface {
	// FindCode looks up an existing (loaderCode, tuple) row.
	FindCode(ctx context.Context, loaderCode string, tuple Tuple) (code int, found bool, err error)
	// NextCode returns max(segmentCode)+1 for loaderCode, starting at 1.
	NextCode(ctx context.Context, loaderCode string) (int, error)
	// Insert attempts to create the (loaderCode, code, tuple) row. Returns
	// ErrCollision if a unique-constraint violation indicates a concurrent
	// allocator already took this code or tuple.
	Insert(ctx context.Context, loaderCode string, code int, tuple Tuple) error
}

// Service implements getOrCreateSegmentCode with a per-loader in-memory
// cache. The cache is an optimization only; invariants hold purely from
// Store, so a cold cache after restart is always correct.
type Service struct {
	store Store

	mu    sync.Mutex
	cache map[string]map[string]int // loaderCode -> tuple key -> code
}

// NewService builds a Service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		cache: make(map[string]map[string]int),
	}
}

// GetOrCreateSegmentCode returns the dense integer code for the 10-tuple
// under loaderCode, allocating one if this is the first time the tuple has
// been seen for that loader.
func (s *Service) GetOrCreateSegmentCode(ctx context.Context, loaderCode string, tuple Tuple) (int, error) {
	k := tuple.key()

	if code, ok := s.cachedLookup(loaderCode, k); ok {
		return code, nil
	}

	code, found, err := s.store.FindCode(ctx, loaderCode, tuple)
	if err != nil {
		return 0, fmt.Errorf("segments: lookup: %w", err)
	}
	if found {
		s.cacheStore(loaderCode, k, code)
		return code, nil
	}

	for {
		next, err := s.store.NextCode(ctx, loaderCode)
		if err != nil {
			return 0, fmt.Errorf("segments: allocate next code: %w", err)
		}

		err = s.store.Insert(ctx, loaderCode, next, tuple)
		if err == nil {
			s.cacheStore(loaderCode, k, next)
			return next, nil
		}
		if errors.Is(err, ErrCollision) {
			existing, found, rerr := s.store.FindCode(ctx, loaderCode, tuple)
			if rerr != nil {
				return 0, fmt.Errorf("segments: re-read after collision: %w", rerr)
			}
			if found {
				s.cacheStore(loaderCode, k, existing)
				return existing, nil
			}
			// Another replica's insert for a different tuple collided on
			// code allocation only; retry with a fresh NextCode.
			continue
		}
		return 0, fmt.Errorf("segments: insert: %w", err)
	}
}

func (s *Service) cachedLookup(loaderCode, key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTuple, ok := s.cache[loaderCode]
	if !ok {
		return 0, false
	}
	code, ok := byTuple[key]
	return code, ok
}

func (s *Service) cacheStore(loaderCode, key string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTuple, ok := s.cache[loaderCode]
	if !ok {
		byTuple = make(map[string]int)
		s.cache[loaderCode] = byTuple
	}
	byTuple[key] = code
}
