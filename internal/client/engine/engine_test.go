package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/client/api"
	"github.com/dmitrijs2005/bizkeeper/internal/client/models"
	"github.com/dmitrijs2005/bizkeeper/internal/client/resolver"
	"github.com/dmitrijs2005/bizkeeper/internal/client/storage"
	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeAPI scripts the transport with per-call functions and records every
// call it receives.
type fakeAPI struct {
	mu    sync.Mutex
	pull  func(table string, lastSync int64) (*wire.PullResponse, error)
	push  func(table string, data []wire.Record) (*wire.PushResponse, error)
	pulls []int64
	pushd [][]wire.Record
}

var _ api.Client = (*fakeAPI)(nil)

func (f *fakeAPI) Pull(ctx context.Context, table string, lastSync int64, deviceID string) (*wire.PullResponse, error) {
	f.mu.Lock()
	f.pulls = append(f.pulls, lastSync)
	f.mu.Unlock()
	if f.pull == nil {
		return &wire.PullResponse{Success: true}, nil
	}
	return f.pull(table, lastSync)
}

func (f *fakeAPI) Push(ctx context.Context, table string, data []wire.Record, deviceID string) (*wire.PushResponse, error) {
	f.mu.Lock()
	f.pushd = append(f.pushd, data)
	f.mu.Unlock()
	if f.push == nil {
		ids := make([]int64, len(data))
		for i, r := range data {
			ids[i] = r.ID
		}
		return &wire.PushResponse{Success: true, ProcessedIDs: ids, ServerTimestamp: 9500}, nil
	}
	return f.push(table, data)
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

type recordSink struct {
	mu          sync.Mutex
	authExpired int
	conflicts   []*wire.Record
	cycles      []CycleStats
}

func (s *recordSink) AuthExpired(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authExpired++
}

func (s *recordSink) ConflictUnresolved(_ context.Context, _ string, rec *wire.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, rec)
}

func (s *recordSink) CycleDone(_ context.Context, stats CycleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, stats)
}

func newTestEngine(t *testing.T, fake *fakeAPI, opts Options) (*Engine, *storage.Store, *recordSink) {
	t.Helper()
	s := storage.Open(context.Background(), filepath.Join(t.TempDir(), "client.db"), logging.NopLogger{})
	require.False(t, s.Degraded)
	t.Cleanup(func() { _ = s.Close() })

	if opts.SyncTables == nil {
		opts.SyncTables = []string{"clients"}
	}
	opts.RetryDelay = time.Millisecond
	sink := &recordSink{}
	e := New(s, fake, opts, fixedClock{t: time.UnixMilli(9000)}, logging.NopLogger{}, sink)
	t.Cleanup(e.Close)
	return e, s, sink
}

func pendingRow(t *testing.T, s *storage.Store, table string, id, ts int64, status wire.SyncStatus, fields map[string]any) {
	t.Helper()
	require.NoError(t, s.Records.Upsert(context.Background(), table, &models.Record{
		ID: id, UpdatedAt: ts, SyncStatus: status, Fields: fields,
	}))
}

func TestFreshPull_StoresRowsSyncedAndAdvancesWatermark(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return &wire.PullResponse{
				Success: true,
				Data: []wire.Record{
					{ID: 1, UpdatedAt: 100, Fields: map[string]any{"name": "A"}},
					{ID: 2, UpdatedAt: 150, Fields: map[string]any{"name": "B"}},
				},
				ServerLastSyncTimestamp: 150,
			}, nil
		},
	}
	e, s, sink := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	require.NoError(t, e.TriggerSync(ctx))

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSynced, got.SyncStatus)
	assert.Equal(t, "A", got.Fields["name"])

	w, err := s.Watermark(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(150), w)

	require.Len(t, sink.cycles, 1)
	assert.Equal(t, 2, sink.cycles[0].Pulled)

	// nothing was pending, so no push happened
	assert.Empty(t, fake.pushd)

	// the next pull starts from the new watermark
	require.NoError(t, e.TriggerSync(ctx))
	assert.Equal(t, []int64{0, 150}, fake.pulls)
}

func TestEmptyPull_StillAdvancesWatermark(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 0}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	require.NoError(t, e.TriggerSync(ctx))

	// no server timestamp, the local clock stands in
	w, err := s.Watermark(ctx, "clients")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), w)
}

func TestPushCreate_FinalizesAcknowledgedRows(t *testing.T) {
	fake := &fakeAPI{}
	e, s, sink := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 8000, wire.StatusPendingPush, map[string]any{"name": "Acme"})

	require.NoError(t, e.TriggerSync(ctx))

	require.Len(t, fake.pushd, 1)
	require.Len(t, fake.pushd[0], 1)
	assert.Equal(t, wire.StatusPendingPush, fake.pushd[0][0].SyncStatus)

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSynced, got.SyncStatus)
	assert.Equal(t, int64(9500), got.ServerLastModified)
	assert.Equal(t, int64(8000), got.UpdatedAt, "ack must not restamp the local edit time")

	require.Len(t, sink.cycles, 1)
	assert.Equal(t, 1, sink.cycles[0].Pushed)
}

func TestPush_UnacknowledgedRowsStayPending(t *testing.T) {
	fake := &fakeAPI{
		push: func(table string, data []wire.Record) (*wire.PushResponse, error) {
			return &wire.PushResponse{Success: true, ProcessedIDs: []int64{1}, ServerTimestamp: 9500}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 8000, wire.StatusPendingPush, nil)
	pendingRow(t, s, "clients", 2, 8001, wire.StatusPendingPush, nil)

	require.NoError(t, e.TriggerSync(ctx))

	got, err := s.Records.Get(ctx, "clients", 2)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPendingPush, got.SyncStatus)
}

func TestPush_SplitsIntoBatches(t *testing.T) {
	fake := &fakeAPI{}
	e, s, _ := newTestEngine(t, fake, Options{BatchSize: 2})
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		pendingRow(t, s, "clients", i, 8000+i, wire.StatusPendingPush, nil)
	}

	require.NoError(t, e.TriggerSync(ctx))

	require.Len(t, fake.pushd, 3)
	assert.Len(t, fake.pushd[0], 2)
	assert.Len(t, fake.pushd[1], 2)
	assert.Len(t, fake.pushd[2], 1)
}

func TestConflict_LocalNewerWinsAndIsPushed(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return &wire.PullResponse{
				Success:                 true,
				Data:                    []wire.Record{{ID: 1, UpdatedAt: 100, Fields: map[string]any{"name": "stale"}}},
				ServerLastSyncTimestamp: 100,
			}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 200, wire.StatusPendingPush, map[string]any{"name": "fresh"})

	require.NoError(t, e.TriggerSync(ctx))

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Fields["name"])
	assert.Equal(t, wire.StatusSynced, got.SyncStatus, "the winning local edit went out with the push")
	require.Len(t, fake.pushd, 1)
	assert.Equal(t, "fresh", fake.pushd[0][0].Fields["name"])
}

func TestConflict_RemoteNewerOverwritesPendingEdit(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return &wire.PullResponse{
				Success:                 true,
				Data:                    []wire.Record{{ID: 1, UpdatedAt: 300, Fields: map[string]any{"name": "remote"}}},
				ServerLastSyncTimestamp: 300,
			}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 200, wire.StatusPendingPush, map[string]any{"name": "local"})

	require.NoError(t, e.TriggerSync(ctx))

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Fields["name"])
	assert.Equal(t, wire.StatusSynced, got.SyncStatus)
	assert.Empty(t, fake.pushd, "the losing edit must not be pushed")
}

func TestTombstone_AppliedOnlyWhenStrictlyNewer(t *testing.T) {
	tombstone := func(ts int64) *fakeAPI {
		return &fakeAPI{
			pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
				return &wire.PullResponse{
					Success:                 true,
					Data:                    []wire.Record{{ID: 1, UpdatedAt: ts, Deleted: true}},
					ServerLastSyncTimestamp: ts,
				}, nil
			},
		}
	}

	t.Run("newer tombstone deletes the pending edit", func(t *testing.T) {
		fake := tombstone(300)
		e, s, _ := newTestEngine(t, fake, Options{})
		ctx := context.Background()
		pendingRow(t, s, "clients", 1, 200, wire.StatusPendingPush, nil)

		require.NoError(t, e.TriggerSync(ctx))

		_, err := s.Records.Get(ctx, "clients", 1)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("older tombstone loses to the pending edit", func(t *testing.T) {
		fake := tombstone(100)
		e, s, _ := newTestEngine(t, fake, Options{})
		ctx := context.Background()
		pendingRow(t, s, "clients", 1, 200, wire.StatusPendingPush, map[string]any{"name": "kept"})

		require.NoError(t, e.TriggerSync(ctx))

		got, err := s.Records.Get(ctx, "clients", 1)
		require.NoError(t, err)
		assert.Equal(t, "kept", got.Fields["name"])
	})
}

func TestDeletePropagation_AckDropsTheRow(t *testing.T) {
	fake := &fakeAPI{}
	e, s, _ := newTestEngine(t, fake, Options{})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 8000, wire.StatusPendingDelete, nil)

	require.NoError(t, e.TriggerSync(ctx))

	require.Len(t, fake.pushd, 1)
	assert.Equal(t, wire.StatusPendingDelete, fake.pushd[0][0].SyncStatus)

	_, err := s.Records.Get(ctx, "clients", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPush_RowEditedInFlightStaysPending(t *testing.T) {
	var s *storage.Store
	fake := &fakeAPI{
		push: func(table string, data []wire.Record) (*wire.PushResponse, error) {
			// a user edit lands while the request is in flight
			pendingRow(t, s, table, 1, 8100, wire.StatusPendingPush, map[string]any{"name": "newer"})
			return &wire.PushResponse{Success: true, ProcessedIDs: []int64{1}, ServerTimestamp: 9500}, nil
		},
	}
	e, store, _ := newTestEngine(t, fake, Options{})
	s = store
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 8000, wire.StatusPendingPush, map[string]any{"name": "older"})

	require.NoError(t, e.TriggerSync(ctx))

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPendingPush, got.SyncStatus)
	assert.Equal(t, "newer", got.Fields["name"])
}

func TestRetry_TransientFailuresAreRetried(t *testing.T) {
	calls := 0
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			calls++
			if calls < 3 {
				return nil, fmt.Errorf("%w: connection refused", common.ErrUnavailable)
			}
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 100}, nil
		},
	}
	e, _, _ := newTestEngine(t, fake, Options{MaxRetries: 3})

	require.NoError(t, e.TriggerSync(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			calls++
			return nil, fmt.Errorf("%w: connection refused", common.ErrUnavailable)
		},
	}
	e, s, sink := newTestEngine(t, fake, Options{MaxRetries: 2})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 8000, wire.StatusPendingPush, nil)

	// an unreachable server fails the table but not the cycle
	require.NoError(t, e.TriggerSync(ctx))
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Empty(t, fake.pushd, "push is skipped after the pull failed")

	// the queued change survives for the next cycle
	pending, err := s.Records.ScanPending(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	require.Len(t, sink.cycles, 1)
}

func TestValidationError_NotRetried(t *testing.T) {
	calls := 0
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			calls++
			return nil, fmt.Errorf("%w: bad deviceId", common.ErrValidation)
		},
	}
	e, _, _ := newTestEngine(t, fake, Options{MaxRetries: 5})

	require.NoError(t, e.TriggerSync(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestUnauthorized_AbortsCycleAndNotifiesSink(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return nil, fmt.Errorf("%w: token expired", common.ErrUnauthorized)
		},
	}
	e, _, sink := newTestEngine(t, fake, Options{SyncTables: []string{"clients", "budgets"}})

	err := e.TriggerSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	assert.Equal(t, 1, sink.authExpired)
	assert.Len(t, fake.pulls, 1, "the second table is never attempted")
	assert.Empty(t, sink.cycles, "an aborted cycle does not report completion")
}

func TestManualStrategy_EmitsUnresolvedAndLeavesLocalAlone(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			return &wire.PullResponse{
				Success:                 true,
				Data:                    []wire.Record{{ID: 1, UpdatedAt: 300, Fields: map[string]any{"name": "remote"}}},
				ServerLastSyncTimestamp: 300,
			}, nil
		},
		push: func(table string, data []wire.Record) (*wire.PushResponse, error) {
			return &wire.PushResponse{Success: true}, nil
		},
	}
	e, s, sink := newTestEngine(t, fake, Options{Strategy: resolver.Manual})
	ctx := context.Background()

	pendingRow(t, s, "clients", 1, 200, wire.StatusPendingPush, map[string]any{"name": "local"})

	require.NoError(t, e.TriggerSync(ctx))

	require.Len(t, sink.conflicts, 1)
	assert.Equal(t, int64(1), sink.conflicts[0].ID)

	got, err := s.Records.Get(ctx, "clients", 1)
	require.NoError(t, err)
	assert.Equal(t, "local", got.Fields["name"])
	assert.Equal(t, wire.StatusPendingPush, got.SyncStatus)
}

func TestTriggerSync_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			close(entered)
			<-release
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 100}, nil
		},
	}
	e, _, _ := newTestEngine(t, fake, Options{})

	done := make(chan error, 1)
	go func() { done <- e.TriggerSync(context.Background()) }()

	<-entered
	assert.ErrorIs(t, e.TriggerSync(context.Background()), common.ErrSyncRunning)
	close(release)
	require.NoError(t, <-done)
}

func TestLifecycle_AuthenticatedStartsSchedulerWithImmediateCycle(t *testing.T) {
	pulled := make(chan struct{}, 8)
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			pulled <- struct{}{}
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 100}, nil
		},
	}
	e, _, _ := newTestEngine(t, fake, Options{SyncInterval: time.Hour})

	e.HandleAuthenticated(context.Background())

	select {
	case <-pulled:
	case <-time.After(2 * time.Second):
		t.Fatal("no immediate cycle after authentication")
	}

	// logout stops the scheduler; no further cycles fire
	e.HandleUnauthenticated(context.Background())
	e.HandleOnline(context.Background())

	select {
	case <-pulled:
		t.Fatal("cycle fired while unauthenticated")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLifecycle_OfflinePausesUntilOnline(t *testing.T) {
	pulled := make(chan struct{}, 8)
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			pulled <- struct{}{}
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 100}, nil
		},
	}
	e, _, _ := newTestEngine(t, fake, Options{SyncInterval: time.Hour})

	e.HandleOffline(context.Background())
	e.HandleAuthenticated(context.Background())

	select {
	case <-pulled:
		t.Fatal("cycle fired while offline")
	case <-time.After(50 * time.Millisecond):
	}

	// connectivity returns, the authenticated session resumes
	e.HandleOnline(context.Background())
	select {
	case <-pulled:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle after coming back online")
	}
}

func TestMultiTable_IndependentWatermarks(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			ts := int64(100)
			if table == "budgets" {
				ts = 200
			}
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: ts}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{SyncTables: []string{"clients", "budgets"}})
	ctx := context.Background()

	require.NoError(t, e.TriggerSync(ctx))

	w1, err := s.Watermark(ctx, "clients")
	require.NoError(t, err)
	w2, err := s.Watermark(ctx, "budgets")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w1)
	assert.Equal(t, int64(200), w2)
}

func TestTableFailure_DoesNotBlockOtherTables(t *testing.T) {
	fake := &fakeAPI{
		pull: func(table string, lastSync int64) (*wire.PullResponse, error) {
			if table == "clients" {
				return nil, errors.New("boom")
			}
			return &wire.PullResponse{Success: true, ServerLastSyncTimestamp: 100}, nil
		},
	}
	e, s, _ := newTestEngine(t, fake, Options{SyncTables: []string{"clients", "budgets"}})
	ctx := context.Background()

	require.NoError(t, e.TriggerSync(ctx))

	w, err := s.Watermark(ctx, "budgets")
	require.NoError(t, err)
	assert.Equal(t, int64(100), w)
}
