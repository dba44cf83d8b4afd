package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/client/resolver"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// pullTable fetches remote changes since the table watermark, resolves each
// against local state and applies the winners. The watermark advances even
// when the delta is empty, so an idle table converges to the server clock.
func (e *Engine) pullTable(ctx context.Context, table, deviceID string, stats *CycleStats) error {
	watermark, err := e.store.Watermark(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	var resp *wire.PullResponse
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.api.Pull(ctx, table, watermark, deviceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	var winners []*models.Record
	for i := range resp.Data {
		remote := &resp.Data[i]

		local, err := e.store.Records.Get(ctx, table, remote.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("failed to read local row %d: %w", remote.ID, err)
		}

		var localWire *wire.Record
		if local != nil {
			// a clean local row holds no competing edit, the remote
			// version is simply newer state
			if !local.Pending() {
				localWire = nil
			} else {
				localWire = local.ToWire()
			}
		}

		out := resolver.Resolve(localWire, remote, e.opts.Strategy, e.opts.TimestampField)
		switch {
		case out.Unresolved:
			stats.Unresolved++
			e.sink.ConflictUnresolved(ctx, table, out.Winner)
		case out.RemoteWon && out.Winner.Deleted:
			if err := e.store.Records.Delete(ctx, table, out.Winner.ID); err != nil {
				return fmt.Errorf("failed to apply remote delete %d: %w", out.Winner.ID, err)
			}
			stats.Deleted++
		case out.RemoteWon:
			winners = append(winners, models.FromWire(out.Winner))
		default:
			// local pending edit wins, the next push carries it up
		}
	}

	if len(winners) > 0 {
		if err := e.store.Records.BulkUpsert(ctx, table, winners); err != nil {
			return fmt.Errorf("failed to apply pulled rows: %w", err)
		}
		stats.Pulled += len(winners)
	}

	next := resp.ServerLastSyncTimestamp
	if next <= 0 {
		next = timex.NowMs(e.clock)
	}
	if err := e.store.AdvanceWatermark(ctx, table, next); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}
