// Package versions holds the last accepted value of every entity, keyed by
// collection and id.
package versions

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/replica/internal/core/replica/types"
)

const defaultShardCount = 16

// Entry is one exported row of the store.
type Entry struct {
	Key   types.Key
	Value types.VersionedValue
}

// Store is a sharded map from identity key to the current VersionedValue.
// Set replaces unconditionally; conflict resolution happens before it is
// called.
type Store struct {
	shards []shard
}

type shard struct {
	mx     sync.RWMutex
	values map[types.Key]types.VersionedValue
}

// New creates a store with shardCount shards (16 when shardCount <= 0).
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &Store{shards: make([]shard, shardCount)}
	for i := range s.shards {
		s.shards[i].values = make(map[types.Key]types.VersionedValue)
	}
	return s
}

func (s *Store) shardFor(key types.Key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(key.Collection)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key.ID)
	return &s.shards[h.Sum64()%uint64(len(s.shards))]
}

func (s *Store) Get(collection, id string) (types.VersionedValue, bool) {
	key := types.NewKey(collection, id)
	sh := s.shardFor(key)

	sh.mx.RLock()
	defer sh.mx.RUnlock()

	v, ok := sh.values[key]
	return v, ok
}

func (s *Store) Set(collection, id string, value types.VersionedValue) {
	key := types.NewKey(collection, id)
	sh := s.shardFor(key)

	sh.mx.Lock()
	sh.values[key] = value
	sh.mx.Unlock()
}

// NextVersion returns the version a new local mutation of the entity should
// carry. Versions are per entity; there is no ordering across entities.
func (s *Store) NextVersion(collection, id string) uint64 {
	current, ok := s.Get(collection, id)
	if !ok {
		return 1
	}
	return current.Version + 1
}

func (s *Store) Delete(collection, id string) {
	key := types.NewKey(collection, id)
	sh := s.shardFor(key)

	sh.mx.Lock()
	delete(sh.values, key)
	sh.mx.Unlock()
}

func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mx.RLock()
		n += len(sh.values)
		sh.mx.RUnlock()
	}
	return n
}

func (s *Store) Clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mx.Lock()
		sh.values = make(map[types.Key]types.VersionedValue)
		sh.mx.Unlock()
	}
}

// Entries returns every stored value ordered by collection then id.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mx.RLock()
		for k, v := range sh.values {
			out = append(out, Entry{Key: k, Value: v})
		}
		sh.mx.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Collection != out[j].Key.Collection {
			return out[i].Key.Collection < out[j].Key.Collection
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out
}
