// Package client wires the sync client together: local storage, transport,
// conflict resolution, the sync engine and the connectivity watcher.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/bizkeeper/internal/client/api"
	"github.com/dmitrijs2005/bizkeeper/internal/client/config"
	"github.com/dmitrijs2005/bizkeeper/internal/client/engine"
	"github.com/dmitrijs2005/bizkeeper/internal/client/netx"
	"github.com/dmitrijs2005/bizkeeper/internal/client/resolver"
	"github.com/dmitrijs2005/bizkeeper/internal/client/storage"
	"github.com/dmitrijs2005/bizkeeper/internal/client/tracker"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
)

// App is the composed sync client. Domain code records mutations through
// Tracker and reads rows from Store; Engine moves them to and from the
// server in the background.
type App struct {
	config  *config.Config
	logger  logging.Logger
	Store   *storage.Store
	Tracker *tracker.Tracker
	Engine  *engine.Engine
	watcher *netx.Watcher
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	strategy, err := resolver.ParseStrategy(cfg.ConflictStrategy)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	store := storage.Open(ctx, cfg.DatabaseDSN, logger)

	clock := timex.SystemClock{}
	httpClient := api.NewHTTPClient(cfg.ServerURL, api.StaticCredentials(cfg.AccessToken), nil)

	eng := engine.New(store, httpClient, engine.Options{
		SyncInterval:   cfg.SyncInterval,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		BatchSize:      cfg.BatchSize,
		SyncTables:     cfg.SyncTables,
		Strategy:       strategy,
		TimestampField: cfg.TimestampField,
	}, clock, logger, nil)

	watcher := netx.NewWatcher(httpClient, cfg.OnlineCheckInterval,
		eng.HandleOnline, eng.HandleOffline, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		Store:   store,
		Tracker: tracker.New(store, clock, logger),
		Engine:  eng,
		watcher: watcher,
	}, nil
}

// Run starts background sync and blocks until the context is cancelled or a
// termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	app.logger.Info(ctx, "Starting sync client...")

	if app.config.AccessToken != "" {
		app.Engine.HandleAuthenticated(ctx)
	} else {
		app.logger.Warn(ctx, "no access token configured, sync stays idle")
	}
	app.watcher.Start()

	<-ctx.Done()

	app.watcher.Stop()
	app.Engine.Close()
	if err := app.Store.Close(); err != nil {
		app.logger.Error(ctx, "storage close error", "error", err)
	}
}
