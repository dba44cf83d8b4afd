package records

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// MemoryRepository is the volatile fallback Local Store. It retains data for
// the process lifetime only and is used when the durable SQLite store cannot
// be opened (degraded persistence).
type MemoryRepository struct {
	mu     sync.RWMutex
	tables map[string]map[int64]*models.Record
}

// NewMemoryRepository returns an empty volatile store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: make(map[string]map[int64]*models.Record)}
}

func (r *MemoryRepository) table(name string) map[int64]*models.Record {
	t, ok := r.tables[name]
	if !ok {
		t = make(map[int64]*models.Record)
		r.tables[name] = t
	}
	return t
}

func clone(rec *models.Record) *models.Record {
	out := *rec
	if rec.Fields != nil {
		out.Fields = make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

func (r *MemoryRepository) Upsert(ctx context.Context, table string, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table(table)[rec.ID] = clone(rec)
	return nil
}

func (r *MemoryRepository) BulkUpsert(ctx context.Context, table string, recs []*models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(table)
	for _, rec := range recs {
		t[rec.ID] = clone(rec)
	}
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, table string, id int64) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tables[table][id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return clone(rec), nil
}

func (r *MemoryRepository) ScanAll(ctx context.Context, table string) ([]*models.Record, error) {
	return r.collect(table, func(rec *models.Record) bool {
		return rec.SyncStatus != wire.StatusPendingDelete
	})
}

func (r *MemoryRepository) ScanWhere(ctx context.Context, table string, keep func(*models.Record) bool) ([]*models.Record, error) {
	return r.collect(table, func(rec *models.Record) bool {
		return rec.SyncStatus != wire.StatusPendingDelete && keep(rec)
	})
}

func (r *MemoryRepository) ScanPending(ctx context.Context, table string) ([]*models.Record, error) {
	return r.collect(table, func(rec *models.Record) bool {
		return rec.SyncStatus != wire.StatusSynced
	})
}

func (r *MemoryRepository) collect(table string, keep func(*models.Record) bool) ([]*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Record
	for _, rec := range r.tables[table] {
		if keep(rec) {
			result = append(result, clone(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) MarkSync(ctx context.Context, table string, id int64, status wire.SyncStatus, updatedAt, serverLastModified int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tables[table][id]
	if !ok {
		return common.ErrNotFound
	}
	rec.SyncStatus = status
	if updatedAt > 0 {
		rec.UpdatedAt = updatedAt
	}
	if serverLastModified > 0 {
		rec.ServerLastModified = serverLastModified
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, table string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables[table], id)
	return nil
}

func (r *MemoryRepository) MaxID(ctx context.Context, table string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max int64
	for id := range r.tables[table] {
		if id > max {
			max = id
		}
	}
	return max, nil
}
