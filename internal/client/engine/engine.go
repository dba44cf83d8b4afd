// Package engine runs the client side of the sync protocol: periodic
// pull/push cycles per table, conflict resolution, retries and lifecycle
// wiring for auth and connectivity transitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/client/api"
	"github.com/dmitrijs2005/bizkeeper/internal/client/resolver"
	"github.com/dmitrijs2005/bizkeeper/internal/client/storage"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
	"github.com/sethvargo/go-retry"
)

// Options tunes the engine. Zero values are replaced by the defaults below.
type Options struct {
	SyncInterval   time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	BatchSize      int
	SyncTables     []string
	Strategy       resolver.Strategy
	TimestampField string
}

const (
	DefaultSyncInterval = 5 * time.Minute
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultBatchSize    = 100
)

func (o *Options) applyDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
}

// CycleStats summarizes one completed sync cycle.
type CycleStats struct {
	Tables     int
	Pulled     int
	Pushed     int
	Deleted    int
	Unresolved int
}

// EventSink receives engine notifications. Implementations must not block.
type EventSink interface {
	// AuthExpired fires when the server rejects the credential; the
	// scheduler has already been stopped.
	AuthExpired(ctx context.Context)

	// ConflictUnresolved fires once per record the Manual strategy could
	// not decide; rec is the synthetic combined record.
	ConflictUnresolved(ctx context.Context, table string, rec *wire.Record)

	// CycleDone fires after every completed cycle.
	CycleDone(ctx context.Context, stats CycleStats)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) AuthExpired(context.Context)                              {}
func (NopSink) ConflictUnresolved(context.Context, string, *wire.Record) {}
func (NopSink) CycleDone(context.Context, CycleStats)                    {}

// Engine drives bidirectional sync between the Local Store and the server.
type Engine struct {
	store  *storage.Store
	api    api.Client
	clock  timex.Clock
	logger logging.Logger
	sink   EventSink
	opts   Options

	running atomic.Bool

	mu            sync.Mutex
	authenticated bool
	online        bool
	cancel        context.CancelFunc
}

func New(store *storage.Store, client api.Client, opts Options, clock timex.Clock, logger logging.Logger, sink EventSink) *Engine {
	opts.applyDefaults()
	if clock == nil {
		clock = timex.SystemClock{}
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		store:  store,
		api:    client,
		clock:  clock,
		logger: logger,
		sink:   sink,
		opts:   opts,
		online: true,
	}
}

// HandleAuthenticated starts the periodic scheduler and kicks off an
// immediate cycle. Safe to call repeatedly.
func (e *Engine) HandleAuthenticated(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authenticated = true
	if e.online {
		e.startLocked()
	}
}

// HandleUnauthenticated stops the scheduler and cancels any in-flight cycle.
// Pending local changes stay queued for the next authenticated session.
func (e *Engine) HandleUnauthenticated(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authenticated = false
	e.stopLocked()
}

// HandleOnline resumes the scheduler if a user is authenticated.
func (e *Engine) HandleOnline(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = true
	if e.authenticated {
		e.startLocked()
	}
}

// HandleOffline pauses the scheduler. Local mutations keep queueing.
func (e *Engine) HandleOffline(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = false
	e.stopLocked()
}

// Close stops the scheduler.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) startLocked() {
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.loop(ctx)
}

func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) loop(ctx context.Context) {
	e.syncAndLog(ctx)

	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncAndLog(ctx)
		}
	}
}

func (e *Engine) syncAndLog(ctx context.Context) {
	err := e.TriggerSync(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, common.ErrSyncRunning):
		e.logger.Debug(ctx, "sync already in progress, skipping tick")
	default:
		e.logger.Error(ctx, "sync cycle failed", "error", err)
	}
}

// TriggerSync runs one full cycle now. A cycle already in flight makes it
// return common.ErrSyncRunning immediately.
func (e *Engine) TriggerSync(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return common.ErrSyncRunning
	}
	defer e.running.Store(false)
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) error {
	deviceID, err := e.store.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device id: %w", err)
	}

	stats := CycleStats{}
	for _, table := range e.opts.SyncTables {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Tables++

		if err := e.pullTable(ctx, table, deviceID, &stats); err != nil {
			if e.abortCycle(ctx, table, "pull", err) {
				return err
			}
			continue
		}
		if err := e.pushTable(ctx, table, deviceID, &stats); err != nil {
			if e.abortCycle(ctx, table, "push", err) {
				return err
			}
		}
	}

	e.sink.CycleDone(ctx, stats)
	e.logger.Info(ctx, "sync cycle finished",
		"tables", stats.Tables, "pulled", stats.Pulled, "pushed", stats.Pushed,
		"deleted", stats.Deleted, "unresolved", stats.Unresolved)
	return nil
}

// abortCycle reports whether err must end the whole cycle. Auth failures do,
// and also stop the scheduler; anything else only skips the current table.
func (e *Engine) abortCycle(ctx context.Context, table, phase string, err error) bool {
	if errors.Is(err, common.ErrUnauthorized) {
		e.logger.Warn(ctx, "credential rejected, stopping scheduler", "table", table)
		e.mu.Lock()
		e.authenticated = false
		e.stopLocked()
		e.mu.Unlock()
		e.sink.AuthExpired(ctx)
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	e.logger.Error(ctx, "table sync failed, continuing with next table",
		"table", table, "phase", phase, "error", err)
	return false
}

// withRetry retries op on transient transport failures with a linear backoff
// of RetryDelay times the attempt number. Auth and validation failures are
// returned as-is.
func (e *Engine) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * e.opts.RetryDelay, false
	})

	return retry.Do(ctx, retry.WithMaxRetries(uint64(e.opts.MaxRetries), backoff), func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, common.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
