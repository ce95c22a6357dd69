package replica

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol"
	"github.com/zeusync/replica/internal/core/replica/resolver"
	"github.com/zeusync/replica/internal/core/replica/types"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func newTestStore(t *testing.T, tr Transport, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(log.Nop())}, opts...)
	s := New(tr, opts...)
	t.Cleanup(func() {
		s.Destroy()
		s.Wait()
	})
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (l *eventLog) add(e types.ChangeEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []types.ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.ChangeEvent(nil), l.events...)
}

func sentIDs(tr *fakeTransport) []string {
	var ids []string
	for _, m := range tr.sentMutations() {
		ids = append(ids, m.ID)
	}
	return ids
}

// sendOnlyConfig acknowledges on send and never retries on its own.
func sendOnlyConfig() Config {
	cfg := DefaultConfig()
	cfg.AckMode = AckOnSend
	cfg.RetryDelay = time.Hour
	cfg.SyncOnReconnect = false
	return cfg
}

func TestInitialStatus(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false), WithNetwork(newFakeNetwork(false)))
	assert.Equal(t, types.StatusIdle, s.Status())

	offline := newTestStore(t, newFakeTransport(false), WithNetwork(newFakeNetwork(true)))
	assert.Equal(t, types.StatusOffline, offline.Status())
	assert.False(t, offline.IsOnline())
}

func TestTrackStampsIncreasingVersions(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))

	var got eventLog
	s.OnSync("tasks", got.add)

	for i := 1; i <= 3; i++ {
		key := s.Track("tasks", "t1", types.OperationUpdate, map[string]any{"x": i})
		assert.Equal(t, types.NewKey("tasks", "t1"), key)

		v, ok := s.GetVersion("tasks", "t1")
		require.True(t, ok)
		assert.Equal(t, uint64(i), v.Version)
		assert.Equal(t, types.OriginLocal, v.Origin)
	}

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, map[string]any{"x": 3}, pending[0].Payload)
	assert.Equal(t, uint64(3), pending[0].Version)
	assert.True(t, s.HasPendingChanges())

	events := got.all()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.True(t, e.IsLocal)
		assert.Equal(t, uint64(i+1), e.Version)
	}
}

func TestTrackSendsWhenConnected(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestStore(t, tr, WithClock(fixedClock(100)))

	s.Track("tasks", "t1", types.OperationCreate, map[string]any{"x": 1})
	s.Wait()

	sent := tr.sentMutations()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.Mutation{
		Collection: "tasks",
		ID:         "t1",
		Operation:  types.OperationCreate,
		Data:       map[string]any{"x": 1},
		Version:    1,
	}, sent[0])

	// accepted by the transport, still waiting for the server
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(0), pending[0].RetryCount)
	assert.Equal(t, time.Unix(100, 0), pending[0].LastAttemptAt)
}

func TestAckOnSendDropsAcceptedMutations(t *testing.T) {
	tr := newFakeTransport(true)
	cfg := DefaultConfig()
	cfg.AckMode = AckOnSend
	s := newTestStore(t, tr, WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationCreate, "a")
	s.Wait()

	assert.Equal(t, 0, s.PendingCount())
	assert.Len(t, tr.sentMutations(), 1)
}

func TestApplyRemoteWithoutLocalEntry(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))

	var got eventLog
	s.OnSync("tasks", got.add)

	v, ok := s.ApplyRemote("tasks", "t1", types.OperationCreate, "remote", 4)
	require.True(t, ok)
	assert.Equal(t, "remote", v.Value)
	assert.Equal(t, types.OriginRemote, v.Origin)

	events := got.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].IsLocal)
	assert.Equal(t, "remote", events[0].Payload)
	assert.Equal(t, uint64(4), events[0].Version)

	// a remote entry never conflicts with the next remote write
	s.SetConflictHandler("tasks", func(_, _ types.VersionedValue) (types.VersionedValue, bool) {
		t.Fatal("resolver must not run for remote-origin entries")
		return types.VersionedValue{}, false
	})
	v, ok = s.ApplyRemote("tasks", "t1", types.OperationUpdate, "newer", 5)
	require.True(t, ok)
	assert.Equal(t, "newer", v.Value)
	assert.Len(t, got.all(), 2)
}

func TestLastWriteWins(t *testing.T) {
	tests := []struct {
		name        string
		localAt     int64
		remoteAt    int64
		expectLocal bool
	}{
		{name: "local newer", localAt: 100, remoteAt: 50, expectLocal: true},
		{name: "remote newer", localAt: 50, remoteAt: 100, expectLocal: false},
		{name: "tie keeps local", localAt: 70, remoteAt: 70, expectLocal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, newFakeTransport(false), WithClock(fixedClock(tt.localAt)))
			s.Track("tasks", "t1", types.OperationUpdate, "local")

			v, ok := s.ApplyRemote("tasks", "t1", types.OperationUpdate, "remote", 1,
				WithRemoteTimestamp(time.Unix(tt.remoteAt, 0)))
			require.True(t, ok)

			stored, _ := s.GetVersion("tasks", "t1")
			if tt.expectLocal {
				assert.Equal(t, "local", v.Value)
				assert.Equal(t, "local", stored.Value)
			} else {
				assert.Equal(t, "remote", v.Value)
				assert.Equal(t, "remote", stored.Value)
			}
		})
	}
}

func TestManualStrategyLeavesStoreUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConflictStrategy = resolver.Manual
	s := newTestStore(t, newFakeTransport(false), WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationUpdate, "local")
	before, _ := s.GetVersion("tasks", "t1")

	var got eventLog
	s.OnSync("tasks", got.add)

	var conflicts []types.ConflictEvent
	s.OnConflict(func(c types.ConflictEvent) { conflicts = append(conflicts, c) })

	v, ok := s.ApplyRemote("tasks", "t1", types.OperationUpdate, "remote", 1)
	assert.False(t, ok)
	assert.Equal(t, types.VersionedValue{}, v)

	after, _ := s.GetVersion("tasks", "t1")
	assert.Equal(t, before, after)
	assert.Empty(t, got.all())

	require.Len(t, conflicts, 1)
	assert.Equal(t, "local", conflicts[0].Local.Value)
	assert.Equal(t, "remote", conflicts[0].Remote.Value)

	// acknowledgment happens regardless of the conflict outcome
	assert.Equal(t, 0, s.PendingCount())
}

func TestCollectionConflictHandler(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false), WithClock(fixedClock(100)))
	s.SetConflictHandler("tasks", func(local, remote types.VersionedValue) (types.VersionedValue, bool) {
		merged := remote
		merged.Value = local.Value.(string) + "+" + remote.Value.(string)
		return merged, true
	})

	s.Track("tasks", "t1", types.OperationUpdate, "l")
	v, ok := s.ApplyRemote("tasks", "t1", types.OperationUpdate, "r", 1)
	require.True(t, ok)
	assert.Equal(t, "l+r", v.Value)

	// other collections keep the default strategy
	s.Track("notes", "n1", types.OperationUpdate, "l")
	v, ok = s.ApplyRemote("notes", "n1", types.OperationUpdate, "r", 1)
	require.True(t, ok)
	assert.Equal(t, "l", v.Value)
}

func TestAcknowledgeByVersion(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))

	s.Track("tasks", "t1", types.OperationUpdate, "a")
	s.Track("tasks", "t1", types.OperationUpdate, "b")
	require.Equal(t, 1, s.PendingCount())

	s.ApplyRemote("tasks", "t1", types.OperationUpdate, "old", 1)
	assert.Equal(t, 1, s.PendingCount())

	s.ApplyRemote("tasks", "other", types.OperationUpdate, "x", 10)
	assert.Equal(t, 1, s.PendingCount())

	s.ApplyRemote("tasks", "t1", types.OperationUpdate, "ack", 2)
	assert.Equal(t, 0, s.PendingCount())
}

func TestSyncFailsFastWhenDisconnected(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestStore(t, tr)
	s.Track("tasks", "t1", types.OperationUpdate, 1)

	assert.False(t, s.Sync(context.Background()))
	assert.Equal(t, types.StatusOffline, s.Status())
	assert.Empty(t, tr.sentMutations())
}

func TestSyncEmptyQueueMarksSynced(t *testing.T) {
	s := newTestStore(t, newFakeTransport(true), WithClock(fixedClock(42)))

	assert.True(t, s.Sync(context.Background()))
	assert.Equal(t, types.StatusSynced, s.Status())
	assert.Equal(t, time.Unix(42, 0), s.LastSyncAt())
}

func TestMaxRetriesKeepsItemQueued(t *testing.T) {
	tr := newFakeTransport(false)
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Hour
	cfg.SyncOnReconnect = false
	s := newTestStore(t, tr, WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationUpdate, 1)
	tr.setFailAll(true)
	tr.setConnected(true)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.False(t, s.Sync(ctx))
		assert.NotEqual(t, types.StatusError, s.Status())
	}
	assert.False(t, s.Sync(ctx))

	assert.Equal(t, types.StatusError, s.Status())
	assert.Equal(t, "failed to sync tasks:t1 after 3 attempts", s.ErrorMessage())
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(3), pending[0].RetryCount)

	tr.setFailAll(false)
	assert.True(t, s.Sync(ctx))
	assert.Equal(t, types.StatusSynced, s.Status())
	assert.Empty(t, s.ErrorMessage())
}

func TestDisconnectedAttemptDoesNotCountAsRetry(t *testing.T) {
	tr := newFakeTransport(true)
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Hour
	s := newTestStore(t, tr, WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationUpdate, 1)
	s.Wait()
	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()

	assert.False(t, s.deliver(types.NewKey("tasks", "t1")))
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(0), pending[0].RetryCount)
}

func TestRetryTimerRedrains(t *testing.T) {
	tr := newFakeTransport(false)
	cfg := DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.SyncOnReconnect = false
	s := newTestStore(t, tr, WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationUpdate, 1)
	tr.setFailNext(1)
	tr.setConnected(true)

	assert.False(t, s.Sync(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Status() == types.StatusSynced
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.sentMutations(), 1)
}

func TestScheduleRetryKeepsSingleTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Hour
	s := newTestStore(t, newFakeTransport(false), WithConfig(cfg))

	s.scheduleRetry()
	s.mu.Lock()
	first := s.retryTimer
	s.mu.Unlock()
	require.NotNil(t, first)

	s.scheduleRetry()
	s.mu.Lock()
	second := s.retryTimer
	s.mu.Unlock()
	assert.Same(t, first, second)
}

func TestSyncDrainsInInsertionOrderAcrossBatches(t *testing.T) {
	tr := newFakeTransport(false)
	cfg := sendOnlyConfig()
	cfg.BatchSize = 2
	s := newTestStore(t, tr, WithConfig(cfg))

	want := []string{"t1", "t2", "t3", "t4", "t5"}
	for _, id := range want {
		s.Track("tasks", id, types.OperationCreate, id)
	}
	tr.setConnected(true)

	require.True(t, s.Sync(context.Background()))
	assert.Equal(t, want, sentIDs(tr))
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, types.StatusSynced, s.Status())
}

func TestFailedItemDoesNotStopPass(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestStore(t, tr, WithConfig(sendOnlyConfig()))

	for _, id := range []string{"t1", "t2", "t3"} {
		s.Track("tasks", id, types.OperationCreate, id)
	}
	tr.setConnected(true)
	tr.setFailNext(1)

	assert.False(t, s.Sync(context.Background()))
	assert.Equal(t, []string{"t2", "t3"}, sentIDs(tr))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].ID)
	assert.Equal(t, uint32(1), pending[0].RetryCount)
	assert.NotEqual(t, types.StatusError, s.Status())
}

func TestMutationTrackedMidPassWaitsForNextPass(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestStore(t, tr, WithConfig(sendOnlyConfig()))

	s.Track("tasks", "t1", types.OperationCreate, 1)
	s.Track("tasks", "t2", types.OperationCreate, 2)
	tr.setConnected(true)

	// the link reads as down while tracking so no background send starts
	var once sync.Once
	tr.setOnSend(func(protocol.Mutation) {
		once.Do(func() {
			tr.setLinkUp(false)
			s.Track("tasks", "late", types.OperationCreate, 3)
			tr.setLinkUp(true)
		})
	})

	ctx := context.Background()
	require.True(t, s.Sync(ctx))
	assert.Equal(t, []string{"t1", "t2"}, sentIDs(tr))
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "late", pending[0].ID)

	require.True(t, s.Sync(ctx))
	assert.Equal(t, []string{"t1", "t2", "late"}, sentIDs(tr))
	assert.Equal(t, 0, s.PendingCount())
}

func TestOnStatusChange(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestStore(t, tr)

	var rec statusRecorder
	unsubscribe := s.OnStatusChange(rec.record)
	assert.Equal(t, []string{"idle"}, rec.all())

	s.Sync(context.Background())
	s.Sync(context.Background())
	assert.Equal(t, []string{"idle", "synced"}, rec.all())

	unsubscribe()
	unsubscribe()
	s.Reset()
	assert.Equal(t, []string{"idle", "synced"}, rec.all())
	assert.Equal(t, types.StatusIdle, s.Status())
}

func TestListenerPanicsAreIsolated(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))

	s.OnSync("tasks", func(types.ChangeEvent) { panic("boom") })
	var got eventLog
	s.OnSync("tasks", got.add)

	assert.NotPanics(t, func() {
		s.OnStatusChange(func(types.Status) { panic("boom") })
		s.Track("tasks", "t1", types.OperationCreate, 1)
	})
	assert.Len(t, got.all(), 1)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))

	var calls int
	var unsubscribe Unsubscribe
	unsubscribe = s.OnSync("tasks", func(types.ChangeEvent) {
		calls++
		unsubscribe()
	})

	s.Track("tasks", "t1", types.OperationCreate, 1)
	s.Track("tasks", "t1", types.OperationUpdate, 2)
	assert.Equal(t, 1, calls)
}

func TestStatusListenerCanCallSync(t *testing.T) {
	tr := newFakeTransport(false)
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Hour
	cfg.SyncOnReconnect = false
	s := newTestStore(t, tr, WithConfig(cfg))

	s.Track("tasks", "t1", types.OperationUpdate, 1)
	tr.setFailAll(true)
	tr.setConnected(true)

	var errorsSeen atomic.Int32
	s.OnStatusChange(func(st types.Status) {
		if st == types.StatusError && errorsSeen.Add(1) == 1 {
			s.Sync(context.Background())
		}
	})

	done := make(chan bool, 1)
	go func() { done <- s.Sync(context.Background()) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Sync blocked behind a status listener")
	}

	assert.Equal(t, int32(2), errorsSeen.Load())
	assert.Equal(t, types.StatusError, s.Status())
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(2), pending[0].RetryCount)
}

func TestNetworkTransitions(t *testing.T) {
	tr := newFakeTransport(true)
	network := newFakeNetwork(false)
	s := newTestStore(t, tr, WithNetwork(network))

	network.setOnline(false)
	assert.Equal(t, types.StatusOffline, s.Status())

	network.setOnline(true)
	s.Wait()
	assert.Equal(t, types.StatusSynced, s.Status())

	// transport loss while the host is still online keeps the last status
	tr.emit(protocol.StateReconnecting)
	assert.Equal(t, types.StatusSynced, s.Status())
}

func TestDestroyHasNoLateSideEffects(t *testing.T) {
	tr := newFakeTransport(false)
	network := newFakeNetwork(false)
	s := newTestStore(t, tr, WithNetwork(network))

	var rec statusRecorder
	s.OnStatusChange(rec.record)
	var got eventLog
	s.OnSync("tasks", got.add)

	s.Track("tasks", "t1", types.OperationCreate, 1)
	s.Destroy()
	s.Destroy()

	assert.Equal(t, 0, tr.listenerCount())
	assert.Equal(t, 0, network.listenerCount())

	before := s.Status()
	tr.setConnected(true)
	network.setOnline(false)
	tr.emit(protocol.StateDisconnected)
	s.Wait()

	assert.Equal(t, before, s.Status())
	assert.Equal(t, []string{"idle"}, rec.all())
	assert.Len(t, got.all(), 1)
	assert.False(t, s.Sync(context.Background()))
	assert.Empty(t, tr.sentMutations())
}

func TestClearPendingAndReset(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))
	s.Track("tasks", "t1", types.OperationCreate, 1)
	s.Track("tasks", "t2", types.OperationCreate, 2)

	s.ClearPending()
	assert.Equal(t, 0, s.PendingCount())
	_, ok := s.GetVersion("tasks", "t1")
	assert.True(t, ok)

	s.Track("tasks", "t3", types.OperationCreate, 3)
	s.Reset()
	assert.Equal(t, 0, s.PendingCount())
	_, ok = s.GetVersion("tasks", "t1")
	assert.False(t, ok)
	assert.Equal(t, types.StatusIdle, s.Status())
	assert.True(t, s.LastSyncAt().IsZero())
}

func TestExportImportState(t *testing.T) {
	src := newTestStore(t, newFakeTransport(false), WithClock(fixedClock(10)))
	src.Track("tasks", "t1", types.OperationCreate, "a")
	src.Track("tasks", "t2", types.OperationCreate, "b")
	src.ApplyRemote("notes", "n1", types.OperationCreate, "r", 7)

	st := src.ExportState()
	require.Len(t, st.Versions, 3)
	require.Len(t, st.Pending, 2)

	dst := newTestStore(t, newFakeTransport(false))
	dst.Track("other", "o1", types.OperationCreate, "gone")
	dst.ImportState(st)

	assert.Equal(t, st, dst.ExportState())
	_, ok := dst.GetVersion("other", "o1")
	assert.False(t, ok)
	assert.Equal(t, uint64(2), dst.versions.NextVersion("tasks", "t1"))
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))
	s.Track("tasks", "t1", types.OperationCreate, 1)

	snap := s.Snapshot()
	assert.Equal(t, types.StatusIdle, snap.Status)
	assert.Equal(t, 1, snap.PendingCount)
	assert.True(t, snap.HasPendingChanges)
	assert.True(t, snap.IsOnline)
	assert.False(t, snap.IsSyncing)
}

func TestEventMetricsAndObserver(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))
	var counter deliveryCounter
	s.AddEventObserver(&counter)

	s.OnSync("tasks", func(types.ChangeEvent) { panic("boom") })
	unsubscribe := s.OnSync("notes", func(types.ChangeEvent) {})
	assert.Equal(t, []string{"notes", "tasks"}, s.WatchedCollections())

	s.Track("tasks", "t1", types.OperationCreate, 1)
	s.Track("notes", "n1", types.OperationCreate, 1)

	m := s.EventMetrics()
	assert.Equal(t, uint64(2), m.Changes.Published)
	assert.Equal(t, uint64(2), m.Changes.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.Changes.Failures)
	assert.Equal(t, uint64(2), m.Changes.SubscribersActive)
	assert.Zero(t, m.Conflicts.Published)

	topics, failures := counter.snapshot()
	assert.Equal(t, []string{"tasks", "notes"}, topics)
	assert.Equal(t, 1, failures)

	unsubscribe()
	assert.Equal(t, []string{"tasks"}, s.WatchedCollections())
}

func TestTrackRejectsInvalidOperation(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestStore(t, tr)
	var got eventLog
	s.OnSync("tasks", got.add)

	s.Track("tasks", "t1", types.Operation(9), 1)
	s.Wait()

	assert.Equal(t, 0, s.PendingCount())
	_, ok := s.GetVersion("tasks", "t1")
	assert.False(t, ok)
	assert.Empty(t, got.all())
	assert.Empty(t, tr.sentMutations())

	s.Track("tasks", "t1", types.OperationCreate, 1)
	v, ok := s.GetVersion("tasks", "t1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v.Version)
}

func TestRemoteUpdateHandler(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false))
	handle := RemoteUpdateHandler(s)

	env, err := protocol.NewEnvelope(protocol.MessageTypeRemoteUpdate, protocol.Mutation{
		Collection: "tasks",
		ID:         "t1",
		Operation:  types.OperationCreate,
		Data:       map[string]any{"x": 1},
		Version:    3,
	}, time.UnixMilli(1700000000000))
	require.NoError(t, err)
	handle(env)

	v, ok := s.GetVersion("tasks", "t1")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v.Version)
	assert.Equal(t, map[string]any{"x": float64(1)}, v.Value)
	assert.Equal(t, time.UnixMilli(1700000000000), v.UpdatedAt)

	other, err := protocol.NewEnvelope(protocol.MessageTypeQueueUpdate, protocol.Mutation{
		Collection: "tasks", ID: "t2", Operation: types.OperationCreate, Version: 1,
	}, time.Now())
	require.NoError(t, err)
	handle(other)
	handle(nil)
	_, ok = s.GetVersion("tasks", "t2")
	assert.False(t, ok)
}

func TestDefaultStore(t *testing.T) {
	def := Default()
	require.NotNil(t, def)
	assert.Same(t, def, Default())

	custom := newTestStore(t, newFakeTransport(false))
	previous := SetDefault(custom)
	assert.Same(t, def, previous)
	assert.Same(t, custom, Default())

	SetDefault(previous)
}

func TestScenarioReconnectFlushesQueue(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestStore(t, tr)

	// the server applies every mutation and echoes it back
	tr.setOnSend(func(m protocol.Mutation) {
		s.ApplyRemote(m.Collection, m.ID, m.Operation, m.Data, m.Version)
	})

	s.Track("tasks", "t1", types.OperationUpdate, map[string]any{"x": 1})
	assert.Equal(t, 1, s.PendingCount())
	assert.NotEqual(t, types.StatusSynced, s.Status())

	var rec statusRecorder
	s.OnStatusChange(rec.record)

	tr.setConnected(true)
	s.Wait()

	assert.Equal(t, []string{"idle", "syncing", "synced"}, rec.all())
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, types.StatusSynced, s.Status())
}

func TestScenarioConflictResolvedLocally(t *testing.T) {
	s := newTestStore(t, newFakeTransport(false), WithClock(fixedClock(100)))
	s.Track("tasks", "t1", types.OperationUpdate, map[string]any{"x": 1})

	var got eventLog
	s.OnSync("tasks", got.add)

	v, ok := s.ApplyRemote("tasks", "t1", types.OperationUpdate, map[string]any{"x": 2}, 1,
		WithRemoteTimestamp(time.Unix(50, 0)))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": 1}, v.Value)

	stored, _ := s.GetVersion("tasks", "t1")
	assert.Equal(t, map[string]any{"x": 1}, stored.Value)

	events := got.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].IsLocal)
	assert.Equal(t, map[string]any{"x": 1}, events[0].Payload)
}
