package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// MemoryStore provides an in-memory Journal. It mirrors the SQLite journal's
// validation and ordering.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextEventID int64
	events      []model.Event
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:         now,
		nextEventID: 1,
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Record appends events. Either every event is stored or none is.
func (s *MemoryStore) Record(ctx context.Context, events ...model.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	for _, ev := range events {
		if !ev.Kind.Valid() {
			return fmt.Errorf("store: record %q: %w", ev.Kind, model.ErrInvalidEventKind)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		ev.ID = s.nextEventID
		s.nextEventID++
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = s.now()
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		s.events = append(s.events, ev)
	}
	return nil
}

// List returns matching events, newest first.
func (s *MemoryStore) List(ctx context.Context, filters model.EventFilters) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if filters.Kind != nil && ev.Kind != *filters.Kind {
			continue
		}
		if filters.UserID != nil && ev.UserID != *filters.UserID {
			continue
		}
		out = append(out, ev)
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out, nil
}
