package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// Journal adapts a ProviderFactory to the store.Journal interface.
type Journal struct {
	factory *ProviderFactory
}

// NewJournal opens the SQLite journal at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	factory, err := NewProviderFactory(dbPath)
	if err != nil {
		return nil, err
	}
	return &Journal{factory: factory}, nil
}

// Record writes events. A batch of more than one event is written in a
// single transaction.
func (j *Journal) Record(ctx context.Context, events ...model.Event) error {
	switch len(events) {
	case 0:
		return nil
	case 1:
		return j.factory.NonTx().CreateEvent(ctx, &events[0])
	}

	tx, err := j.factory.Tx(ctx)
	if err != nil {
		return fmt.Errorf("datastore: record: begin: %w", err)
	}
	for i := range events {
		if err := tx.CreateEvent(ctx, &events[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: record: commit: %w", err)
	}
	return nil
}

// List returns matching events, newest first.
func (j *Journal) List(ctx context.Context, filters model.EventFilters) ([]model.Event, error) {
	return j.factory.NonTx().ListEvents(ctx, filters)
}

// Counts returns the number of stored events per kind. Kinds with no events
// are included with a zero count.
func (j *Journal) Counts(ctx context.Context) (map[model.EventKind]int, error) {
	p := j.factory.NonTx()
	counts := make(map[model.EventKind]int, len(model.EventKinds))
	for _, kind := range model.EventKinds {
		n, err := p.CountEvents(ctx, kind)
		if err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, nil
}

// Prune removes events older than retention and returns how many were
// removed. A non-positive retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return j.factory.NonTx().DeleteEventsBefore(ctx, time.Now().Add(-retention))
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.factory.Close()
}
