// Package server initializes and runs the sync backend: it opens the
// PostgreSQL storage, applies migrations, starts the HTTP endpoint and the
// periodic tombstone purge, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/server/config"
	"github.com/dmitrijs2005/bizkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/bizkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/bizkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/bizkeeper/internal/server/services"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	syncService *services.SyncService
}

func NewApp(c *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	svc := services.NewSyncService(db, c.SyncTables, timex.SystemClock{}, logger)

	return &App{config: c, logger: logger, db: db, syncService: svc}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.Up(db, ".")
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddr, app.syncService, app.config.SecretKey, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startTombstonePurge periodically removes tombstones older than the
// configured retention so the records table does not grow without bound.
// Clients offline longer than the retention window resync from scratch.
func (app *App) startTombstonePurge(ctx context.Context) {
	ticker := time.NewTicker(app.config.PurgeInterval)
	defer ticker.Stop()

	repo := records.NewPostgresRepository(app.db)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-app.config.TombstoneRetention).UnixMilli()
			for _, table := range app.config.SyncTables {
				n, err := repo.PurgeTombstonesBefore(ctx, table, before)
				if err != nil {
					app.logger.Error(ctx, "tombstone purge failed", "table", table, "error", err)
					continue
				}
				if n > 0 {
					app.logger.Info(ctx, "purged tombstones", "table", table, "count", n)
				}
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	go app.startTombstonePurge(ctx)

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
