package replica

import (
	"time"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/internal/core/replica/versions"
)

// State is the durable part of a store: accepted values, queued mutations
// in queue order and the time of the last complete drain.
type State struct {
	Versions   []versions.Entry
	Pending    []types.PendingMutation
	LastSyncAt time.Time
}

// ExportState captures versions and pending mutations.
func (s *Store) ExportState() State {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return State{
		Versions:   s.versions.Entries(),
		Pending:    s.Pending(),
		LastSyncAt: s.LastSyncAt(),
	}
}

// ImportState replaces versions and pending mutations with st. No change
// events are dispatched. When the transport is connected the restored queue
// is flushed in the background.
func (s *Store) ImportState(st State) {
	s.writeMu.Lock()
	s.versions.Clear()
	s.pending.Clear()
	for _, e := range st.Versions {
		s.versions.Set(e.Key.Collection, e.Key.ID, e.Value)
	}
	for _, m := range st.Pending {
		s.pending.Enqueue(m)
	}
	s.writeMu.Unlock()

	if !st.LastSyncAt.IsZero() {
		s.mu.Lock()
		s.lastSyncAt = st.LastSyncAt
		s.mu.Unlock()
	}

	s.logger.Info("state imported",
		log.Int("versions", len(st.Versions)),
		log.Int("pending", len(st.Pending)))

	if len(st.Pending) > 0 && s.transport.IsConnected() && !s.isDestroyed() {
		s.goFlush()
	}
}
