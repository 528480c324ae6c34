package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

const auditWriteTimeout = 5 * time.Second

// auditor writes lifecycle events to the journal. It is never called with
// the state lock held.
type auditor struct {
	journal store.Journal
	metrics *Metrics
	logger  *slog.Logger
}

func (a *auditor) record(events ...model.Event) {
	if a.journal == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := a.journal.Record(ctx, events...); err != nil {
		a.metrics.AuditFailures.Add(1)
		a.logger.Error("audit write failed", "kind", events[0].Kind, "events", len(events), "err", err)
	}
}
