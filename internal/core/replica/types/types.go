package types

import (
	"fmt"
	"time"
)

// Operation is the kind of mutation applied to an entity.
type Operation uint8

const (
	// OperationCreate creates a new entity.
	OperationCreate Operation = iota + 1
	// OperationUpdate replaces an existing entity.
	OperationUpdate
	// OperationDelete removes an entity.
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOperation maps the wire name of an operation onto an Operation.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "create":
		return OperationCreate, nil
	case "update":
		return OperationUpdate, nil
	case "delete":
		return OperationDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// Valid reports whether o is one of the defined operations.
func (o Operation) Valid() bool {
	return o >= OperationCreate && o <= OperationDelete
}

func (o Operation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid operation %d", uint8(o))
	}
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Origin tells whether the latest accepted write of an entity came from this
// client or from the server.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Status is the process-wide synchronization status.
type Status uint8

const (
	StatusIdle Status = iota
	StatusSyncing
	StatusSynced
	StatusError
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	case StatusError:
		return "error"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Key is the identity of an entity across the version store and the pending
// queue.
type Key struct {
	Collection string
	ID         string
}

func NewKey(collection, id string) Key {
	return Key{Collection: collection, ID: id}
}

func (k Key) String() string {
	return k.Collection + ":" + k.ID
}

// VersionedValue is the current accepted state of one entity.
type VersionedValue struct {
	Value     any
	Version   uint64
	UpdatedAt time.Time
	Origin    Origin
}

// PendingMutation is a local write that the server has not acknowledged yet.
type PendingMutation struct {
	ID            string
	Collection    string
	Operation     Operation
	Payload       any
	Version       uint64
	QueuedAt      time.Time
	RetryCount    uint32
	LastAttemptAt time.Time // zero until the transport accepted the item once
}

func (m PendingMutation) Key() Key {
	return Key{Collection: m.Collection, ID: m.ID}
}

// ChangeEvent notifies collection subscribers about an accepted change.
type ChangeEvent struct {
	Collection string
	Operation  Operation
	ID         string
	Payload    any
	Version    uint64
	IsLocal    bool
}

// ConflictEvent is raised when a conflict could not be resolved
// automatically. Neither side has been applied.
type ConflictEvent struct {
	Collection string
	ID         string
	Operation  Operation
	Local      VersionedValue
	Remote     VersionedValue
}
