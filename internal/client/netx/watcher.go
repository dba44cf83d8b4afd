// Package netx watches server reachability for the sync engine. The watcher
// probes the unauthenticated ping endpoint on an interval and reports
// online/offline transitions, which the engine maps to starting and stopping
// its scheduler.
package netx

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/logging"
)

// Pinger probes server reachability. *api.HTTPClient satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 30 * time.Second

// Watcher polls a Pinger and fires callbacks on state transitions only.
type Watcher struct {
	pinger    Pinger
	interval  time.Duration
	onOnline  func(ctx context.Context)
	onOffline func(ctx context.Context)
	logger    logging.Logger

	mu     sync.Mutex
	online bool
	known  bool
	cancel context.CancelFunc
}

func NewWatcher(pinger Pinger, interval time.Duration, onOnline, onOffline func(ctx context.Context), logger logging.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Watcher{
		pinger:    pinger,
		interval:  interval,
		onOnline:  onOnline,
		onOffline: onOffline,
		logger:    logger,
	}
}

// Start launches the probe loop with an immediate first probe. Calling Start
// on a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
}

// Stop halts probing. The last known state is kept for the next Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) loop(ctx context.Context) {
	w.probe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	err := w.pinger.Ping(ctx)
	online := err == nil

	w.mu.Lock()
	changed := !w.known || online != w.online
	w.online = online
	w.known = true
	w.mu.Unlock()

	if !changed {
		return
	}

	if online {
		w.logger.Info(ctx, "server reachable")
		if w.onOnline != nil {
			w.onOnline(ctx)
		}
	} else {
		w.logger.Warn(ctx, "server unreachable", "error", err)
		if w.onOffline != nil {
			w.onOffline(ctx)
		}
	}
}
