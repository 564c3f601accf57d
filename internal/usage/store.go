package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the append-only event store.
type Store interface {
	// Append durably writes one event.
	Append(ctx context.Context, e *Event) error
	// Count returns the number of events matching f.
	Count(ctx context.Context, f Filter) (int64, error)
	// Find returns events matching f ordered by s. A limit of 0 means no
	// limit.
	Find(ctx context.Context, f Filter, s Sort, limit, offset int) ([]Event, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies event identifiers.
type IDGenerator interface {
	New() string
}

// MemoryStore is an in-process Store. It backs tests and single-node
// development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of e.
func (s *MemoryStore) Append(_ context.Context, e *Event) error {
	cp := *e
	cp.Metadata = copyMetadata(e.Metadata)
	s.mu.Lock()
	s.events = append(s.events, cp)
	s.mu.Unlock()
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.events {
		if f.Matches(e) {
			n++
		}
	}
	return n, nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, f Filter, srt Sort, limit, offset int) ([]Event, error) {
	s.mu.RLock()
	matched := make([]Event, 0)
	for _, e := range s.events {
		if f.Matches(e) {
			cp := e
			cp.Metadata = copyMetadata(e.Metadata)
			matched = append(matched, cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return less(matched[i], matched[j], srt)
	})

	if offset >= len(matched) {
		return []Event{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// less orders by the sort key, then createdAt, then id, all in the sort
// direction.
func less(a, b Event, s Sort) bool {
	if s.Key == SortEventType && a.EventType != b.EventType {
		if s.Desc {
			return a.EventType > b.EventType
		}
		return a.EventType < b.EventType
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if s.Desc {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if s.Desc {
		return a.ID > b.ID
	}
	return a.ID < b.ID
}

func copyMetadata(m Metadata) Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
