// Package pending keeps local mutations that the server has not acknowledged
// yet, in the order they were first queued.
package pending

import (
	"sync"
	"time"

	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/pkg/sequence"
)

// DefaultBatchSize bounds how many items one delivery batch carries.
const DefaultBatchSize = 50

// Entry is a queued mutation together with its identity key.
type Entry struct {
	Key      types.Key
	Mutation types.PendingMutation
}

// Queue is safe for concurrent use.
type Queue struct {
	mx    sync.Mutex
	items *sequence.OrderedMap[types.Key, types.PendingMutation]
}

func New() *Queue {
	return &Queue{items: sequence.NewOrderedMap[types.Key, types.PendingMutation]()}
}

// Enqueue inserts m, or replaces the mutation already queued for the same
// entity. A replaced entry keeps its place in the queue; payloads are never
// merged.
func (q *Queue) Enqueue(m types.PendingMutation) {
	q.mx.Lock()
	q.items.Set(m.Key(), m)
	q.mx.Unlock()
}

// DequeueIfAcknowledged removes the entity's mutation iff its version is at
// most remoteVersion.
func (q *Queue) DequeueIfAcknowledged(collection, id string, remoteVersion uint64) bool {
	key := types.NewKey(collection, id)

	q.mx.Lock()
	defer q.mx.Unlock()

	m, ok := q.items.Get(key)
	if !ok || m.Version > remoteVersion {
		return false
	}
	return q.items.Delete(key)
}

// Drain returns a snapshot of the queue in insertion order. Items stay queued.
func (q *Queue) Drain() []Entry {
	q.mx.Lock()
	defer q.mx.Unlock()

	out := make([]Entry, 0, q.items.Len())
	for k, m := range q.items.All() {
		out = append(out, Entry{Key: k, Mutation: m})
	}
	return out
}

// Batches splits a snapshot of the queue into chunks of size.
func (q *Queue) Batches(size int) [][]Entry {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return sequence.Chunk(q.Drain(), size)
}

func (q *Queue) Get(key types.Key) (types.PendingMutation, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.items.Get(key)
}

// RemoveVersion removes key only while it still carries version.
func (q *Queue) RemoveVersion(key types.Key, version uint64) bool {
	q.mx.Lock()
	defer q.mx.Unlock()

	m, ok := q.items.Get(key)
	if !ok || m.Version != version {
		return false
	}
	return q.items.Delete(key)
}

// RecordFailure bumps the retry count of key if it still holds version and
// returns the new count. ok is false when the item was replaced or removed
// while the delivery was in flight.
func (q *Queue) RecordFailure(key types.Key, version uint64) (retries uint32, ok bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	m, found := q.items.Get(key)
	if !found || m.Version != version {
		return 0, false
	}
	m.RetryCount++
	q.items.Set(key, m)
	return m.RetryCount, true
}

// MarkAccepted resets the retry count of key and stamps the attempt time,
// provided key still holds version.
func (q *Queue) MarkAccepted(key types.Key, version uint64, at time.Time) bool {
	q.mx.Lock()
	defer q.mx.Unlock()

	m, found := q.items.Get(key)
	if !found || m.Version != version {
		return false
	}
	m.RetryCount = 0
	m.LastAttemptAt = at
	q.items.Set(key, m)
	return true
}

func (q *Queue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.items.Len()
}

// Clear drops every pending mutation.
func (q *Queue) Clear() {
	q.mx.Lock()
	q.items.Clear()
	q.mx.Unlock()
}
