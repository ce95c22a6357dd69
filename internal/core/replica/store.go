// Package replica keeps a local replica of server-owned collections and
// delivers local mutations to the server once a connection is available.
//
// Local writes enter through Track. They are versioned, recorded as the
// current local state, queued and, when the transport is connected, sent
// right away. Remote writes enter through ApplyRemote, are reconciled against
// local state and acknowledge queued mutations by version. Status is the only
// error channel of the mutation API: network failures never surface as
// returned errors.
package replica

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zeusync/replica/internal/core/events/bus"
	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol"
	"github.com/zeusync/replica/internal/core/replica/pending"
	"github.com/zeusync/replica/internal/core/replica/resolver"
	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/internal/core/replica/versions"
)

const statusTopic = ""

// Unsubscribe removes a listener. Calling it more than once is safe.
type Unsubscribe func()

// Snapshot is a point-in-time view of the store status.
type Snapshot struct {
	Status            types.Status
	ErrorMessage      string
	LastSyncAt        time.Time
	PendingCount      int
	IsSyncing         bool
	IsOnline          bool
	HasPendingChanges bool
}

// Store is the sync controller. It is safe for concurrent use.
type Store struct {
	cfg       Config
	logger    log.Log
	now       func() time.Time
	transport Transport
	network   Network

	versions *versions.Store
	pending  *pending.Queue
	resolver *resolver.Resolver

	changes   *bus.Dispatcher[types.ChangeEvent]
	statuses  *bus.Dispatcher[types.Status]
	conflicts *bus.Dispatcher[types.ConflictEvent]

	// writeMu serializes entity writes so version stamping and conflict
	// resolution see a stable version store.
	writeMu sync.Mutex

	// drainMu serializes deliveries; one item is in flight at a time.
	drainMu sync.Mutex

	mu            sync.Mutex
	status        types.Status
	errorMessage  string
	lastSyncAt    time.Time
	retryTimer    *time.Timer
	unsubscribers []func()
	destroyed     bool

	// Status transitions waiting to be published. Publishing is held while
	// a delivery owns drainMu and done by one goroutine at a time.
	notices    []types.Status
	noticeHold int
	notifying  bool

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New builds a store bound to transport. A nil transport yields a detached
// store that only queues. The store subscribes to the transport and network
// immediately; call Destroy to detach.
func New(transport Transport, opts ...Option) *Store {
	s := &Store{
		cfg:       DefaultConfig(),
		now:       time.Now,
		transport: transport,
		versions:  versions.New(0),
		pending:   pending.New(),
		status:    types.StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = detached{}
	}
	if s.network == nil {
		s.network = alwaysOnline{}
	}
	if s.logger == nil {
		s.logger = log.Provide()
	}
	s.logger = s.logger.With(log.String("component", "replica"))
	s.resolver = resolver.New(s.cfg.ConflictStrategy, s.logger)
	s.changes = bus.New[types.ChangeEvent]("changes", s.logger)
	s.statuses = bus.New[types.Status]("status", s.logger)
	s.conflicts = bus.New[types.ConflictEvent]("conflicts", s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.attach()
	return s
}

func (s *Store) attach() {
	unsubTransport := s.transport.OnStateChange(s.onTransportState)
	unsubNetwork := s.network.OnStatusChange(s.onNetworkStatus)

	s.mu.Lock()
	s.unsubscribers = append(s.unsubscribers, unsubTransport, unsubNetwork)
	s.mu.Unlock()

	if s.network.IsOffline() {
		s.setStatus(types.StatusOffline, "")
	} else {
		s.setStatus(types.StatusIdle, "")
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Track records a local mutation and returns its identity key. The change
// event is dispatched before any network attempt. When the transport is
// connected the mutation is sent in the background; failures go through the
// regular retry path. Track never blocks on network I/O. A mutation with an
// undefined operation could never be encoded; it is logged and dropped
// without touching local state.
func (s *Store) Track(collection, id string, op types.Operation, data any) types.Key {
	key := types.NewKey(collection, id)
	if !op.Valid() {
		s.logger.Error("rejected mutation with invalid operation",
			log.String("key", key.String()),
			log.Uint64("operation", uint64(op)))
		return key
	}
	now := s.now()

	s.writeMu.Lock()
	version := s.versions.NextVersion(collection, id)
	s.pending.Enqueue(types.PendingMutation{
		ID:         id,
		Collection: collection,
		Operation:  op,
		Payload:    data,
		Version:    version,
		QueuedAt:   now,
	})
	s.versions.Set(collection, id, types.VersionedValue{
		Value:     data,
		Version:   version,
		UpdatedAt: now,
		Origin:    types.OriginLocal,
	})
	s.writeMu.Unlock()

	s.logger.Debug("tracked local mutation",
		log.String("key", key.String()),
		log.String("operation", op.String()),
		log.Uint64("version", version))

	s.dispatch(types.ChangeEvent{
		Collection: collection,
		Operation:  op,
		ID:         id,
		Payload:    data,
		Version:    version,
		IsLocal:    true,
	})

	if s.transport.IsConnected() {
		s.goDeliver(key)
	}

	return key
}

// ApplyRemote reconciles a server-side change. Without a local write for the
// entity the change is applied directly. Otherwise the conflict resolver
// decides; when it makes no decision nothing is applied or dispatched, a
// ConflictEvent is raised and false is returned. In every case a queued
// mutation with a version <= remoteVersion is acknowledged.
func (s *Store) ApplyRemote(collection, id string, op types.Operation, data any, remoteVersion uint64, opts ...RemoteOption) (types.VersionedValue, bool) {
	ro := remoteOptions{updatedAt: s.now()}
	for _, opt := range opts {
		opt(&ro)
	}
	remote := types.VersionedValue{
		Value:     data,
		Version:   remoteVersion,
		UpdatedAt: ro.updatedAt,
		Origin:    types.OriginRemote,
	}

	var (
		applied  types.VersionedValue
		decided  = true
		conflict types.ConflictEvent
	)

	s.writeMu.Lock()
	current, found := s.versions.Get(collection, id)
	if !found || current.Origin == types.OriginRemote {
		applied = remote
		s.versions.Set(collection, id, applied)
	} else {
		applied, decided = s.resolver.Resolve(collection, current, remote)
		if decided {
			s.versions.Set(collection, id, applied)
		} else {
			conflict = types.ConflictEvent{
				Collection: collection,
				ID:         id,
				Operation:  op,
				Local:      current,
				Remote:     remote,
			}
		}
	}
	acked := s.pending.DequeueIfAcknowledged(collection, id, remoteVersion)
	s.writeMu.Unlock()

	if acked {
		s.logger.Debug("pending mutation acknowledged",
			log.String("key", types.NewKey(collection, id).String()),
			log.Uint64("remote_version", remoteVersion))
	}

	if !decided {
		s.logger.Warn("remote update left unresolved",
			log.String("key", types.NewKey(collection, id).String()),
			log.Uint64("local_version", conflict.Local.Version),
			log.Uint64("remote_version", remoteVersion))
		_ = s.conflicts.Publish(statusTopic, conflict)
		return types.VersionedValue{}, false
	}

	s.dispatch(types.ChangeEvent{
		Collection: collection,
		Operation:  op,
		ID:         id,
		Payload:    applied.Value,
		Version:    applied.Version,
		IsLocal:    false,
	})
	return applied, true
}

// Sync delivers the whole pending queue. It returns false without trying
// when the transport is not connected, marking the store offline.
func (s *Store) Sync(ctx context.Context) bool {
	if s.isDestroyed() {
		return false
	}
	if !s.transport.IsConnected() {
		s.setStatus(types.StatusOffline, "")
		return false
	}
	return s.drain(ctx)
}

// OnSync subscribes handler to change events of collection.
func (s *Store) OnSync(collection string, handler func(types.ChangeEvent)) Unsubscribe {
	sub := s.changes.Subscribe(collection, func(e types.ChangeEvent) error {
		handler(e)
		return nil
	})
	return sub.Cancel
}

// OnStatusChange subscribes handler to status transitions. handler is called
// right away with the current status.
func (s *Store) OnStatusChange(handler func(types.Status)) Unsubscribe {
	sub := s.statuses.Subscribe(statusTopic, func(st types.Status) error {
		handler(st)
		return nil
	})
	s.callStatusHandler(handler, s.Status())
	return sub.Cancel
}

func (s *Store) callStatusHandler(handler func(types.Status), st types.Status) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status handler panic", log.Any("panic", r))
		}
	}()
	handler(st)
}

// OnConflict subscribes handler to conflicts that need manual resolution.
func (s *Store) OnConflict(handler func(types.ConflictEvent)) Unsubscribe {
	sub := s.conflicts.Subscribe(statusTopic, func(c types.ConflictEvent) error {
		handler(c)
		return nil
	})
	return sub.Cancel
}

// SetConflictHandler overrides the default strategy for collection. The
// handler runs while entity writes are serialized and must not call back
// into Track or ApplyRemote.
func (s *Store) SetConflictHandler(collection string, handler resolver.Handler) {
	s.resolver.SetHandler(collection, handler)
}

// GetVersion returns the current accepted value of an entity.
func (s *Store) GetVersion(collection, id string) (types.VersionedValue, bool) {
	return s.versions.Get(collection, id)
}

// Pending returns a snapshot of the queued mutations in queue order.
func (s *Store) Pending() []types.PendingMutation {
	entries := s.pending.Drain()
	out := make([]types.PendingMutation, len(entries))
	for i, e := range entries {
		out[i] = e.Mutation
	}
	return out
}

// ClearPending drops every queued mutation.
func (s *Store) ClearPending() {
	s.pending.Clear()
	s.logger.Info("pending queue cleared")
}

// Reset drops all versions and pending mutations and returns to idle.
func (s *Store) Reset() {
	s.writeMu.Lock()
	s.pending.Clear()
	s.versions.Clear()
	s.writeMu.Unlock()

	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.lastSyncAt = time.Time{}
	s.mu.Unlock()

	s.setStatus(types.StatusIdle, "")
}

// Destroy stops the retry timer, detaches from the transport and network and
// drops every listener. Deliveries already in flight complete but have no
// further effect on status. Destroy is idempotent.
func (s *Store) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	unsubscribers := s.unsubscribers
	s.unsubscribers = nil
	s.mu.Unlock()

	s.cancel()
	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.changes.Clear()
	s.statuses.Clear()
	s.conflicts.Clear()
	s.resolver.Clear()

	s.logger.Debug("store destroyed")
}

func (s *Store) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

func (s *Store) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt
}

func (s *Store) PendingCount() int {
	return s.pending.Len()
}

func (s *Store) IsSyncing() bool {
	return s.Status() == types.StatusSyncing
}

func (s *Store) IsOnline() bool {
	return s.Status() != types.StatusOffline
}

func (s *Store) HasPendingChanges() bool {
	return s.pending.Len() > 0
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	st, msg, last := s.status, s.errorMessage, s.lastSyncAt
	s.mu.Unlock()

	n := s.pending.Len()
	return Snapshot{
		Status:            st,
		ErrorMessage:      msg,
		LastSyncAt:        last,
		PendingCount:      n,
		IsSyncing:         st == types.StatusSyncing,
		IsOnline:          st != types.StatusOffline,
		HasPendingChanges: n > 0,
	}
}

// EventMetrics holds the delivery counters of the listener dispatchers.
type EventMetrics struct {
	Changes   bus.Metrics
	Status    bus.Metrics
	Conflicts bus.Metrics
}

func (s *Store) EventMetrics() EventMetrics {
	return EventMetrics{
		Changes:   s.changes.GetMetrics(),
		Status:    s.statuses.GetMetrics(),
		Conflicts: s.conflicts.GetMetrics(),
	}
}

// AddEventObserver registers obs on the change, status and conflict
// dispatchers. Change deliveries report the collection as topic.
func (s *Store) AddEventObserver(obs bus.Observer) {
	s.changes.AddObserver(obs)
	s.statuses.AddObserver(obs)
	s.conflicts.AddObserver(obs)
}

// WatchedCollections returns the sorted collections with at least one OnSync
// listener.
func (s *Store) WatchedCollections() []string {
	out := s.changes.Topics()
	sort.Strings(out)
	return out
}

func (s *Store) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// setStatus records a transition. A non-empty msg replaces the error
// message; any status other than error clears it. Listeners are only
// notified when the status actually changes.
func (s *Store) setStatus(status types.Status, msg string) {
	s.mu.Lock()
	previous := s.status
	s.status = status
	if msg != "" {
		s.errorMessage = msg
	} else if status != types.StatusError {
		s.errorMessage = ""
	}
	if previous != status {
		s.notices = append(s.notices, status)
	}
	s.mu.Unlock()

	if previous == status {
		return
	}
	s.logger.Debug("status changed",
		log.String("from", previous.String()),
		log.String("to", status.String()))
	s.flushStatus()
}

// holdStatus defers status notifications until the matching releaseStatus.
// Deliveries hold them while drainMu is locked, so listeners may call back
// into the store.
func (s *Store) holdStatus() {
	s.mu.Lock()
	s.noticeHold++
	s.mu.Unlock()
}

func (s *Store) releaseStatus() {
	s.mu.Lock()
	s.noticeHold--
	s.mu.Unlock()
	s.flushStatus()
}

// flushStatus publishes queued transitions in order. Transitions queued while
// another call is publishing, including those raised by listeners, are picked
// up by that call.
func (s *Store) flushStatus() {
	s.mu.Lock()
	if s.noticeHold > 0 || s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.notices) > 0 {
		status := s.notices[0]
		s.notices = s.notices[1:]
		s.mu.Unlock()
		_ = s.statuses.Publish(statusTopic, status)
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

func (s *Store) dispatch(e types.ChangeEvent) {
	_ = s.changes.Publish(e.Collection, e)
}

func (s *Store) onTransportState(state protocol.ConnectionState) {
	if s.isDestroyed() {
		return
	}
	s.logger.Debug("transport state", log.String("state", state.String()))

	switch state {
	case protocol.StateConnected:
		if s.cfg.SyncOnReconnect {
			s.goFlush()
		}
	case protocol.StateDisconnected, protocol.StateReconnecting:
		if s.network.IsOffline() {
			s.setStatus(types.StatusOffline, "")
		}
	}
}

func (s *Store) onNetworkStatus(online bool) {
	if s.isDestroyed() {
		return
	}
	s.logger.Debug("network status", log.Bool("online", online))

	if !online {
		s.setStatus(types.StatusOffline, "")
		return
	}
	if s.transport.IsConnected() {
		s.goFlush()
	}
}
