package store

import (
	"context"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// Journal records session and room lifecycle events.
// The default backend is the SQLite journal in pkg/datastore; MemoryStore
// serves tests and runs where no database is configured.
type Journal interface {
	// Record appends events in order. Backends that support transactions
	// write a batch atomically.
	Record(ctx context.Context, events ...model.Event) error

	// List returns matching events, newest first.
	List(ctx context.Context, filters model.EventFilters) ([]model.Event, error)

	// Close releases the underlying storage.
	Close() error
}

// Compile-time check: *MemoryStore implements Journal.
var _ Journal = (*MemoryStore)(nil)
