// Package tracker records local mutations so the sync engine can replay them
// against the server. Domain CRUD code calls MarkForSync instead of touching
// sync columns directly.
package tracker

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/client/storage"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// Intent is the kind of local mutation being recorded.
type Intent int

const (
	// IntentUpsert queues a create or update for push.
	IntentUpsert Intent = iota
	// IntentDelete queues a delete. The row is retained with pendingDelete
	// status until the server acknowledges it.
	IntentDelete
)

// Tracker stamps and persists mutated rows through the Local Store.
type Tracker struct {
	store  *storage.Store
	clock  timex.Clock
	logger logging.Logger
}

func New(store *storage.Store, clock timex.Clock, logger logging.Logger) *Tracker {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Tracker{store: store, clock: clock, logger: logger}
}

// MarkForSync stamps rec with the current time and the pending status for
// intent, then persists it. New rows (ID == 0) get a local id first. A delete
// keeps the row in place so the engine can replay it later; domain reads
// already exclude pendingDelete rows.
//
// On a degraded store nothing is queued for sync: the mutation is applied to
// the volatile layer so the app keeps working, a warning is logged and the
// call reports success.
func (t *Tracker) MarkForSync(ctx context.Context, table string, rec *models.Record, intent Intent) error {
	if rec.ID == 0 {
		if intent == IntentDelete {
			return fmt.Errorf("cannot delete a record without an id")
		}
		id, err := t.store.AllocateID(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to allocate local id: %w", err)
		}
		rec.ID = id
	}

	rec.UpdatedAt = timex.NowMs(t.clock)

	if t.store.Degraded {
		t.logger.Warn(ctx, "durable storage unavailable, change stays local and will not sync",
			"table", table, "id", rec.ID)
		if intent == IntentDelete {
			return t.store.Records.Delete(ctx, table, rec.ID)
		}
		rec.SyncStatus = wire.StatusSynced
		return t.store.Records.Upsert(ctx, table, rec)
	}

	switch intent {
	case IntentDelete:
		rec.SyncStatus = wire.StatusPendingDelete
	default:
		rec.SyncStatus = wire.StatusPendingPush
	}

	if err := t.store.Records.Upsert(ctx, table, rec); err != nil {
		return fmt.Errorf("failed to record pending change: %w", err)
	}
	return nil
}
