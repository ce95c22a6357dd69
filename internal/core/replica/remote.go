package replica

import (
	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol"
)

// RemoteUpdateHandler returns a message callback that feeds remote_update
// envelopes into s. Other message types are ignored. The envelope timestamp
// is used as the remote write time.
func RemoteUpdateHandler(s *Store) func(*protocol.Envelope) {
	return func(e *protocol.Envelope) {
		if e == nil || e.Type != protocol.MessageTypeRemoteUpdate {
			return
		}
		m, err := e.Mutation()
		if err != nil {
			s.logger.Warn("dropping remote update", log.String("envelope", e.ID), log.Error(err))
			return
		}
		opts := []RemoteOption{}
		if e.Timestamp > 0 {
			opts = append(opts, WithRemoteTimestamp(e.Time()))
		}
		s.ApplyRemote(m.Collection, m.ID, m.Operation, m.Data, m.Version, opts...)
	}
}
