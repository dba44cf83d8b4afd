package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// pushTable uploads pending rows in batches and finalizes only what the
// server acknowledged. Rows mutated while their batch was in flight keep
// their pending status and go out with the next cycle.
func (e *Engine) pushTable(ctx context.Context, table, deviceID string, stats *CycleStats) error {
	pending, err := e.store.Records.ScanPending(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to scan pending rows: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	for start := 0; start < len(pending); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.pushBatch(ctx, table, deviceID, pending[start:end], stats); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pushBatch(ctx context.Context, table, deviceID string, batch []*models.Record, stats *CycleStats) error {
	data := make([]wire.Record, 0, len(batch))
	snapshots := make(map[int64]*models.Record, len(batch))
	for _, rec := range batch {
		data = append(data, *rec.ToWire())
		snapshots[rec.ID] = rec
	}

	var resp *wire.PushResponse
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.api.Push(ctx, table, data, deviceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	for _, id := range resp.ProcessedIDs {
		snapshot, ok := snapshots[id]
		if !ok {
			e.logger.Warn(ctx, "server acknowledged an id that was not pushed", "table", table, "id", id)
			continue
		}
		if err := e.finalize(ctx, table, snapshot, resp.ServerTimestamp); err != nil {
			return err
		}
		stats.Pushed++
	}
	return nil
}

// finalize settles one acknowledged row. The row is re-read first: a user
// edit that landed after the snapshot was taken restamps updatedAt, and such
// rows must stay pending so the new edit is not lost.
func (e *Engine) finalize(ctx context.Context, table string, snapshot *models.Record, serverTS int64) error {
	current, err := e.store.Records.Get(ctx, table, snapshot.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to re-read row %d: %w", snapshot.ID, err)
	}
	if current.UpdatedAt != snapshot.UpdatedAt {
		e.logger.Debug(ctx, "row changed while push was in flight, keeping it pending",
			"table", table, "id", snapshot.ID)
		return nil
	}

	if current.SyncStatus == wire.StatusPendingDelete {
		if err := e.store.Records.Delete(ctx, table, current.ID); err != nil {
			return fmt.Errorf("failed to drop acknowledged delete %d: %w", current.ID, err)
		}
		return nil
	}

	if err := e.store.Records.MarkSync(ctx, table, current.ID, wire.StatusSynced, 0, serverTS); err != nil {
		return fmt.Errorf("failed to mark row %d synced: %w", current.ID, err)
	}
	return nil
}
