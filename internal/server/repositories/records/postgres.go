package records

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/dbx"
	"github.com/dmitrijs2005/bizkeeper/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SelectUpdatedSince(ctx context.Context, table, userID string, since int64) ([]*models.Record, error) {
	query := `SELECT id, fields, updated_at, deleted FROM records
		WHERE table_name=$1 AND user_id=$2 AND updated_at>$3
		ORDER BY updated_at ASC`

	rows, err := r.db.QueryContext(ctx, query, table, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		item := models.Record{Table: table, UserID: userID}
		if err := rows.Scan(&item.ID, &item.Fields, &item.UpdatedAt, &item.Deleted); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (table_name, id, user_id, fields, updated_at, deleted, deleted_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, 0)
		ON CONFLICT (table_name, id)
		DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at,
			deleted = FALSE,
			deleted_at = 0
			WHERE records.user_id = EXCLUDED.user_id;
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.Table, rec.ID, rec.UserID, rec.Fields, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrRecordOwnership
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, table string, id int64, userID string, ts int64) error {
	query := `UPDATE records SET deleted = TRUE, updated_at = $4, deleted_at = $4
		WHERE table_name = $1 AND id = $2 AND user_id = $3`

	res, err := r.db.ExecContext(ctx, query, table, id, userID, ts)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}

	// the row never made it to the server; a fresh tombstone still has to
	// reach the user's other devices
	insert := `
		INSERT INTO records (table_name, id, user_id, fields, updated_at, deleted, deleted_at)
		VALUES ($1, $2, $3, '{}', $4, TRUE, $4)
		ON CONFLICT (table_name, id) DO NOTHING;
	`
	res, err = r.db.ExecContext(ctx, insert, table, id, userID, ts)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		// the row exists but belongs to someone else
		return common.ErrRecordOwnership
	}
	return nil
}

func (r *PostgresRepository) PurgeTombstonesBefore(ctx context.Context, table string, before int64) (int64, error) {
	query := `DELETE FROM records WHERE table_name = $1 AND deleted = TRUE AND deleted_at < $2`

	res, err := r.db.ExecContext(ctx, query, table, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
