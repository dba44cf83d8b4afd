// Package records provides the PostgreSQL-backed repository for server-side
// row persistence and sync delta queries.
package records

import (
	"context"

	"github.com/dmitrijs2005/bizkeeper/internal/server/models"
)

// Repository is the server-side storage contract used by the sync service.
type Repository interface {
	// SelectUpdatedSince returns all rows of table owned by userID with
	// updated_at > since, tombstones included, ordered by updated_at
	// ascending.
	SelectUpdatedSince(ctx context.Context, table, userID string, since int64) ([]*models.Record, error)

	// Upsert inserts or replaces a row by (table, id) for its owner. A
	// conflicting row owned by another user updates nothing and yields
	// common.ErrRecordOwnership.
	Upsert(ctx context.Context, rec *models.Record) error

	// SoftDelete turns the row into a tombstone stamped at ts. A missing
	// row becomes a fresh tombstone so other devices still learn about
	// the delete; a row owned by another user yields
	// common.ErrRecordOwnership.
	SoftDelete(ctx context.Context, table string, id int64, userID string, ts int64) error

	// PurgeTombstonesBefore physically removes tombstones of table deleted
	// before the given timestamp and reports how many rows went away.
	PurgeTombstonesBefore(ctx context.Context, table string, before int64) (int64, error)
}
