package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/okian/torturbo/pkg/metrics"
)

// MemoryStore is a bounded in-memory history kept sorted by sequence
// number, oldest first.
type MemoryStore struct {
	mu       sync.RWMutex
	snaps    []Snapshot
	capacity int
	ids      map[string]struct{}
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store holding at most WithCapacity snapshots.
func NewMemoryStore(opts ...Option) *MemoryStore {
	c := newConfig(opts)
	return &MemoryStore{
		snaps:    make([]Snapshot, 0, c.capacity),
		capacity: c.capacity,
		ids:      make(map[string]struct{}, c.capacity),
	}
}

// Save implements Store. Snapshots may arrive out of order; each one is
// placed by Seq. When full, the lowest sequence is evicted, which may be the
// snapshot being saved.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, dup := s.ids[snap.RequestID]; dup {
		return nil
	}
	if len(s.snaps) == s.capacity && snap.Seq < s.snaps[0].Seq {
		return nil
	}

	// after any equal Seq, so ties keep arrival order
	i := sort.Search(len(s.snaps), func(i int) bool { return s.snaps[i].Seq > snap.Seq })
	s.snaps = slices.Insert(s.snaps, i, cloneSnapshot(snap))
	s.ids[snap.RequestID] = struct{}{}

	if len(s.snaps) > s.capacity {
		delete(s.ids, s.snaps[0].RequestID)
		s.snaps = slices.Delete(s.snaps, 0, 1)
	}
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Snapshot, error) {
	if err := validate(limit); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	n := min(limit, len(s.snaps))
	out := make([]Snapshot, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cloneSnapshot(s.snaps[len(s.snaps)-1-i]))
	}
	return out, nil
}

// Series implements Store.
func (s *MemoryStore) Series(_ context.Context, ordinal, limit int) ([]Point, error) {
	if ordinal < 1 {
		return nil, ErrInvalidOrdinal
	}
	if err := validate(limit); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Point
	for i := len(s.snaps) - 1; i >= 0 && len(out) < limit; i-- {
		snap := s.snaps[i]
		if ordinal > len(snap.Circuits) {
			continue
		}
		out = append(out, Point{
			RequestID: snap.RequestID,
			Seq:       snap.Seq,
			At:        snap.At,
			RTT:       snap.Circuits[ordinal-1].RTT,
		})
	}
	if len(out) == 0 {
		metrics.RecordErrorByComponent("repository", "not_found")
		return nil, ErrNotFound
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.snaps = nil
	s.ids = nil
	return nil
}
