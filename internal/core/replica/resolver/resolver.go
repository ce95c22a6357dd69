// Package resolver decides which side of a local/remote conflict wins.
package resolver

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/replica/types"
)

var ErrInvalidStrategy = errors.New("invalid conflict strategy")

// Strategy is the default policy applied when a collection has no handler.
type Strategy uint8

const (
	// LastWriteWins keeps the value with the strictly later UpdatedAt. A tie
	// keeps the local value: the remote value wins only when it is strictly
	// newer. Timestamps come from different wall clocks, so this is a
	// best-effort ordering only.
	LastWriteWins Strategy = iota
	// ServerWins always keeps the remote value.
	ServerWins
	// ClientWins always keeps the local value.
	ClientWins
	// Manual never decides; the caller must resolve out of band.
	Manual
)

func (s Strategy) String() string {
	switch s {
	case LastWriteWins:
		return "last-write-wins"
	case ServerWins:
		return "server-wins"
	case ClientWins:
		return "client-wins"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "last-write-wins", "lww", "":
		return LastWriteWins, nil
	case "server-wins":
		return ServerWins, nil
	case "client-wins":
		return ClientWins, nil
	case "manual":
		return Manual, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

func (s Strategy) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseStrategy(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Handler overrides the default strategy for one collection. Returning
// false leaves the conflict unresolved.
type Handler func(local, remote types.VersionedValue) (types.VersionedValue, bool)

// Resolver is safe for concurrent use.
type Resolver struct {
	strategy Strategy
	logger   log.Log

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(strategy Strategy, logger log.Log) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		strategy: strategy,
		logger:   logger.With(log.String("component", "resolver")),
		handlers: make(map[string]Handler),
	}
}

func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// SetHandler registers h for collection, replacing any previous handler.
// A nil h removes it.
func (r *Resolver) SetHandler(collection string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, collection)
		return
	}
	r.handlers[collection] = h
}

func (r *Resolver) RemoveHandler(collection string) {
	r.SetHandler(collection, nil)
}

// Clear drops every collection handler.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()
}

// Resolve returns the value to keep for collection. ok is false when no
// automatic decision was made; the caller must then apply neither side.
func (r *Resolver) Resolve(collection string, local, remote types.VersionedValue) (types.VersionedValue, bool) {
	r.mu.RLock()
	h, found := r.handlers[collection]
	r.mu.RUnlock()

	if found {
		return h(local, remote)
	}

	switch r.strategy {
	case LastWriteWins:
		if local.UpdatedAt.After(remote.UpdatedAt) || local.UpdatedAt.Equal(remote.UpdatedAt) {
			return local, true
		}
		return remote, true
	case ServerWins:
		return remote, true
	case ClientWins:
		return local, true
	case Manual:
		r.logger.Warn("conflict requires manual resolution",
			log.String("collection", collection),
			log.Uint64("local_version", local.Version),
			log.Uint64("remote_version", remote.Version))
		return types.VersionedValue{}, false
	default:
		r.logger.Error("unknown conflict strategy", log.String("strategy", r.strategy.String()))
		return types.VersionedValue{}, false
	}
}
