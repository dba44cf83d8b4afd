// Package records implements the client Local Store: durable table/row
// storage with sync-status bookkeeping, scans and atomic bulk upserts.
package records

import (
	"context"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// Repository is the Local Store contract used by the change tracker and the
// sync engine. Individual operations are atomic with respect to concurrent
// readers; BulkUpsert either fully applies or fully fails.
type Repository interface {
	// Upsert inserts or replaces one row, preserving its id.
	Upsert(ctx context.Context, table string, rec *models.Record) error

	// BulkUpsert applies all rows inside one transaction.
	BulkUpsert(ctx context.Context, table string, recs []*models.Record) error

	// Get returns one row or common.ErrNotFound.
	Get(ctx context.Context, table string, id int64) (*models.Record, error)

	// ScanAll lists rows visible to domain reads. Rows awaiting delete
	// acknowledgement (pendingDelete) are excluded.
	ScanAll(ctx context.Context, table string) ([]*models.Record, error)

	// ScanWhere lists rows visible to domain reads that satisfy keep.
	ScanWhere(ctx context.Context, table string, keep func(*models.Record) bool) ([]*models.Record, error)

	// ScanPending lists rows with syncStatus != synced, pendingDelete included.
	ScanPending(ctx context.Context, table string) ([]*models.Record, error)

	// MarkSync sets the sync status and optionally stamps updatedAt and
	// serverLastModified (zero values leave the stored ones untouched).
	MarkSync(ctx context.Context, table string, id int64, status wire.SyncStatus, updatedAt, serverLastModified int64) error

	// Delete removes the row physically.
	Delete(ctx context.Context, table string, id int64) error

	// MaxID returns the highest id present in the table, 0 when empty.
	MaxID(ctx context.Context, table string) (int64, error)
}
