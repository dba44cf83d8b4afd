// Package services implements the server-side sync operations behind the
// HTTP handlers: validated delta reads and transactional batch writes.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/dbx"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/server/models"
	"github.com/dmitrijs2005/bizkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
	"github.com/google/uuid"
)

// SyncService validates and executes pull and push requests for one user.
type SyncService struct {
	db     *sql.DB
	repos  func(dbx.DBTX) records.Repository
	tables map[string]struct{}
	clock  timex.Clock
	logger logging.Logger
}

func NewSyncService(db *sql.DB, tables []string, clock timex.Clock, logger logging.Logger) *SyncService {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[t] = struct{}{}
	}
	return &SyncService{
		db:     db,
		repos:  func(db dbx.DBTX) records.Repository { return records.NewPostgresRepository(db) },
		tables: allowed,
		clock:  clock,
		logger: logger,
	}
}

func (s *SyncService) validate(table, deviceID string, lastSync int64) error {
	if !wire.ValidTableName(table) {
		return fmt.Errorf("%w: malformed table name %q", common.ErrInvalidTable, table)
	}
	if _, ok := s.tables[table]; !ok {
		return fmt.Errorf("%w: table %q is not synchronized", common.ErrInvalidTable, table)
	}
	if lastSync < 0 {
		return fmt.Errorf("%w: lastSync must not be negative", common.ErrValidation)
	}
	if _, err := uuid.Parse(deviceID); err != nil {
		return fmt.Errorf("%w: deviceId must be a UUID", common.ErrValidation)
	}
	return nil
}

// Pull returns all rows of table owned by userID changed after lastSync,
// tombstones included, plus the server timestamp the client should adopt as
// its next watermark.
func (s *SyncService) Pull(ctx context.Context, userID, table string, lastSync int64, deviceID string) (*wire.PullResponse, error) {
	if err := s.validate(table, deviceID, lastSync); err != nil {
		return nil, err
	}

	// The watermark is captured before the read. A push committing while the
	// SELECT runs stamps its rows no earlier than this, so the client's next
	// pull still covers them.
	now := timex.NowMs(s.clock)

	rows, err := s.repos(s.db).SelectUpdatedSince(ctx, table, userID, lastSync)
	if err != nil {
		return nil, fmt.Errorf("failed to read delta: %w", err)
	}

	data := make([]wire.Record, 0, len(rows))
	for _, row := range rows {
		w, err := row.ToWire()
		if err != nil {
			return nil, err
		}
		data = append(data, *w)
	}

	return &wire.PullResponse{
		Success:                 true,
		Data:                    data,
		ServerLastSyncTimestamp: now,
	}, nil
}

// Push applies a batch of client changes inside one transaction. Every
// applied row gets the same server timestamp, echoed back so clients record
// it as serverLastModified. A row that fails is logged and skipped; its id
// is simply absent from processedIds, so the client retries it next cycle
// and a replayed batch stays idempotent.
//
// Each row runs under a savepoint. Postgres aborts the whole transaction on
// the first statement error, so without the savepoint one bad row would fail
// every later row and the commit itself.
func (s *SyncService) Push(ctx context.Context, userID, table string, data []wire.Record, deviceID string) (*wire.PushResponse, error) {
	if err := s.validate(table, deviceID, 0); err != nil {
		return nil, err
	}

	now := timex.NowMs(s.clock)
	if len(data) == 0 {
		return &wire.PushResponse{Success: true, ServerTimestamp: now}, nil
	}

	var processed []int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos(tx)
		for i := range data {
			rec := &data[i]

			if _, err := tx.ExecContext(ctx, "SAVEPOINT push_record"); err != nil {
				return err
			}

			var applyErr error
			if rec.SyncStatus == wire.StatusPendingDelete {
				applyErr = repo.SoftDelete(ctx, table, rec.ID, userID, now)
			} else {
				var row *models.Record
				row, applyErr = models.FromWire(table, userID, rec)
				if applyErr == nil {
					row.UpdatedAt = now
					applyErr = repo.Upsert(ctx, row)
				}
			}

			if applyErr != nil {
				if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT push_record"); err != nil {
					return err
				}
				if errors.Is(applyErr, common.ErrRecordOwnership) {
					s.logger.Warn(ctx, "skipping row owned by another user",
						"table", table, "id", rec.ID, "userId", userID)
				} else {
					s.logger.Warn(ctx, "skipping row that failed to apply",
						"table", table, "id", rec.ID, "error", applyErr)
				}
				continue
			}

			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT push_record"); err != nil {
				return err
			}
			processed = append(processed, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply push: %w", err)
	}

	return &wire.PushResponse{
		Success:         true,
		ProcessedIDs:    processed,
		ServerTimestamp: now,
	}, nil
}
