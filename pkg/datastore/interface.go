package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for journal entries.
type DataStore interface {
	ConfigReadProvider

	EventReadProvider
	EventWriteProvider
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ store.Journal       = (*Journal)(nil)
)

type ConfigReadProvider interface {
	ZeroTime() time.Time
}

type EventReadProvider interface {
	ListEvents(ctx context.Context, filters model.EventFilters) ([]model.Event, error)
	CountEvents(ctx context.Context, kind model.EventKind) (int, error)
}

type EventWriteProvider interface {
	CreateEvent(ctx context.Context, event *model.Event) error
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}
