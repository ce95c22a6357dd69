package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol"
	"github.com/zeusync/replica/internal/core/replica/types"
)

// drain runs one delivery pass over a snapshot of the pending queue.
// Mutations tracked while the pass runs are left for the next one.
func (s *Store) drain(ctx context.Context) bool {
	s.lockDrain()
	defer s.unlockDrain()

	if s.isDestroyed() {
		return false
	}

	batches := s.pending.Batches(s.cfg.BatchSize)
	if len(batches) == 0 {
		s.markSynced()
		return true
	}

	s.setStatus(types.StatusSyncing, "")
	started := s.now()

	allDelivered := true
pass:
	for _, batch := range batches {
		for _, entry := range batch {
			if ctx.Err() != nil {
				allDelivered = false
				break pass
			}
			if !s.deliver(entry.Key) {
				allDelivered = false
			}
		}
	}

	if s.isDestroyed() {
		return false
	}

	s.logger.Debug("drain pass finished",
		log.Int("batches", len(batches)),
		log.Bool("delivered", allDelivered),
		log.Duration("took", s.now().Sub(started)))

	if allDelivered {
		s.markSynced()
		return true
	}
	if s.pending.Len() > 0 {
		s.scheduleRetry()
	}
	return false
}

// deliver sends the mutation currently queued under key. A key that left the
// queue since the snapshot was taken counts as delivered. A disconnected
// transport fails the attempt without touching the retry count.
func (s *Store) deliver(key types.Key) bool {
	m, ok := s.pending.Get(key)
	if !ok {
		return true
	}
	if !s.transport.IsConnected() {
		return false
	}

	err := s.transport.Send(protocol.MessageTypeQueueUpdate, protocol.Mutation{
		Collection: m.Collection,
		ID:         m.ID,
		Operation:  m.Operation,
		Data:       m.Payload,
		Version:    m.Version,
	})
	if s.isDestroyed() {
		return err == nil
	}

	if err != nil {
		retries, tracked := s.pending.RecordFailure(key, m.Version)
		s.logger.Warn("delivery failed",
			log.String("key", key.String()),
			log.Uint64("version", m.Version),
			log.Uint32("retries", retries),
			log.Error(err))
		if tracked && retries >= s.cfg.MaxRetries {
			s.setStatus(types.StatusError,
				fmt.Sprintf("failed to sync %s after %d attempts", key, s.cfg.MaxRetries))
		}
		return false
	}

	if s.cfg.AckMode == AckOnSend {
		s.pending.RemoveVersion(key, m.Version)
	} else {
		s.pending.MarkAccepted(key, m.Version, s.now())
	}
	return true
}

func (s *Store) markSynced() {
	s.mu.Lock()
	s.lastSyncAt = s.now()
	s.mu.Unlock()
	s.setStatus(types.StatusSynced, "")
}

// scheduleRetry arms the retry timer unless one is already outstanding.
func (s *Store) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.retryTimer != nil {
		return
	}
	s.logger.Debug("retry scheduled", log.Duration("delay", s.cfg.RetryDelay))
	s.retryTimer = time.AfterFunc(s.cfg.RetryDelay, s.onRetry)
}

func (s *Store) onRetry() {
	s.mu.Lock()
	s.retryTimer = nil
	destroyed := s.destroyed
	s.mu.Unlock()

	if destroyed || !s.transport.IsConnected() || s.pending.Len() == 0 {
		return
	}
	s.drain(s.ctx)
}

// goFlush drains the queue in the background.
func (s *Store) goFlush() {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.drain(s.ctx)
	}()
}

// goDeliver sends a single freshly tracked mutation in the background.
func (s *Store) goDeliver(key types.Key) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		s.lockDrain()
		delivered := s.isDestroyed() || s.deliver(key)
		s.unlockDrain()

		if !delivered && s.pending.Len() > 0 {
			s.scheduleRetry()
		}
	}()
}

// lockDrain takes drainMu with status notifications held; unlockDrain
// publishes them once drainMu is released.
func (s *Store) lockDrain() {
	s.drainMu.Lock()
	s.holdStatus()
}

func (s *Store) unlockDrain() {
	s.drainMu.Unlock()
	s.releaseStatus()
}

// Wait blocks until background deliveries started so far have finished.
func (s *Store) Wait() {
	s.inflight.Wait()
}
