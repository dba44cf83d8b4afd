// Package storage bootstraps the client Local Store: it opens the SQLite
// database, applies embedded migrations and bundles the repositories the
// engine works with. When the durable layer cannot be opened it falls back
// to a volatile in-process store and flags the bundle as degraded.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/bizkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/bizkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/bizkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Store bundles the Local Store repositories. Degraded means the durable
// layer is absent and data survives the process lifetime only.
type Store struct {
	DB       *sql.DB // nil in degraded mode
	Records  records.Repository
	Metadata metadata.Repository
	Degraded bool
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open returns a durable Store for the given DSN, or a degraded volatile
// Store when the durable layer cannot be initialized. Degradation is logged,
// never fatal: pulls still work best-effort and domain reads keep serving.
func Open(ctx context.Context, dsn string, logger logging.Logger) *Store {
	s, err := openDurable(ctx, dsn)
	if err != nil {
		logger.Warn(ctx, "local storage unavailable, falling back to volatile store",
			"dsn", dsn, "error", err)
		return &Store{
			Records:  records.NewMemoryRepository(),
			Metadata: metadata.NewMemoryRepository(),
			Degraded: true,
		}
	}
	return s
}

func openDurable(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under the engine's write bursts.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}

	return &Store{
		DB:       db,
		Records:  records.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}, nil
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// DeviceID returns the stable per-install device UUID, creating it on first
// use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.Metadata.Get(ctx, common.MetaDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.Metadata.Set(ctx, common.MetaDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Watermark returns the pull watermark for table, 0 when absent.
func (s *Store) Watermark(ctx context.Context, table string) (int64, error) {
	v, err := s.Metadata.Get(ctx, common.WatermarkKey(table))
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark for %s: %w", table, err)
	}
	return ms, nil
}

// AdvanceWatermark moves the table watermark forward. Regressions are
// silently ignored: watermarks only advance.
func (s *Store) AdvanceWatermark(ctx context.Context, table string, ms int64) error {
	current, err := s.Watermark(ctx, table)
	if err != nil {
		return err
	}
	if ms <= current {
		return nil
	}
	return s.Metadata.Set(ctx, common.WatermarkKey(table), strconv.FormatInt(ms, 10))
}

// AllocateID hands out the next local id for a new row in table. The floor
// persisted in metadata keeps ids from being reused after deletes; MaxID
// keeps them above everything already pulled from the server.
func (s *Store) AllocateID(ctx context.Context, table string) (int64, error) {
	maxID, err := s.Records.MaxID(ctx, table)
	if err != nil {
		return 0, err
	}

	floor := int64(0)
	if v, err := s.Metadata.Get(ctx, common.LocalIDKey(table)); err != nil {
		return 0, err
	} else if v != "" {
		floor, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt id floor for %s: %w", table, err)
		}
	}

	next := maxID + 1
	if floor+1 > next {
		next = floor + 1
	}
	if err := s.Metadata.Set(ctx, common.LocalIDKey(table), strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}
