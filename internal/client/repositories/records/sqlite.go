package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/dbx"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// SQLiteRepository implements Repository over a single records table keyed
// by (table_name, id). Domain fields are stored as a JSON blob, so the
// store stays schema-agnostic per table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository bound to the given database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const upsertQuery = `
	INSERT INTO records (table_name, id, fields, updated_at, server_last_modified, sync_status)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(table_name, id) DO UPDATE SET
		fields = excluded.fields,
		updated_at = excluded.updated_at,
		server_last_modified = excluded.server_last_modified,
		sync_status = excluded.sync_status
`

func upsertOne(ctx context.Context, db dbx.DBTX, table string, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = db.ExecContext(ctx, upsertQuery,
		table, rec.ID, string(fields), rec.UpdatedAt, rec.ServerLastModified, int(rec.SyncStatus))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%d: %w", table, rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, table string, rec *models.Record) error {
	return upsertOne(ctx, r.db, table, rec)
}

func (r *SQLiteRepository) BulkUpsert(ctx context.Context, table string, recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, rec := range recs {
			if err := upsertOne(ctx, tx, table, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, table string, id int64) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, fields, updated_at, server_last_modified, sync_status
		 FROM records WHERE table_name = ? AND id = ?`, table, id)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%d: %w", table, id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ScanAll(ctx context.Context, table string) ([]*models.Record, error) {
	return r.scan(ctx,
		`SELECT id, fields, updated_at, server_last_modified, sync_status
		 FROM records WHERE table_name = ? AND sync_status != ? ORDER BY id`,
		table, int(wire.StatusPendingDelete))
}

func (r *SQLiteRepository) ScanWhere(ctx context.Context, table string, keep func(*models.Record) bool) ([]*models.Record, error) {
	all, err := r.ScanAll(ctx, table)
	if err != nil {
		return nil, err
	}
	result := make([]*models.Record, 0, len(all))
	for _, rec := range all {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (r *SQLiteRepository) ScanPending(ctx context.Context, table string) ([]*models.Record, error) {
	return r.scan(ctx,
		`SELECT id, fields, updated_at, server_last_modified, sync_status
		 FROM records WHERE table_name = ? AND sync_status != ? ORDER BY updated_at, id`,
		table, int(wire.StatusSynced))
}

func (r *SQLiteRepository) MarkSync(ctx context.Context, table string, id int64, status wire.SyncStatus, updatedAt, serverLastModified int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET
			sync_status = ?,
			updated_at = CASE WHEN ? > 0 THEN ? ELSE updated_at END,
			server_last_modified = CASE WHEN ? > 0 THEN ? ELSE server_last_modified END
		 WHERE table_name = ? AND id = ?`,
		int(status), updatedAt, updatedAt, serverLastModified, serverLastModified, table, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %s/%d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, table string, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM records WHERE table_name = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%d: %w", table, id, err)
	}
	return nil
}

func (r *SQLiteRepository) MaxID(ctx context.Context, table string) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM records WHERE table_name = ?`, table).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max id for %s: %w", table, err)
	}
	return max, nil
}

func (r *SQLiteRepository) scan(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

func scanRecord(scan func(...any) error) (*models.Record, error) {
	var (
		rec    models.Record
		fields string
		status int
	)
	if err := scan(&rec.ID, &fields, &rec.UpdatedAt, &rec.ServerLastModified, &status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	rec.SyncStatus = wire.SyncStatus(status)
	return &rec, nil
}
