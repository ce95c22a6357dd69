package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/replica/internal/core/replica/types"
)

// Envelope is the frame exchanged with the sync server:
//
//	{"type":"queue_update","timestamp":1700000000000,"payload":{...},"id":"..."}
//
// Timestamp is in Unix milliseconds.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	ID        string          `json:"id,omitempty"`
}

// Mutation is the payload of queue_update and remote_update envelopes.
type Mutation struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Operation  types.Operation `json:"operation"`
	Data       any             `json:"data"`
	Version    uint64          `json:"version"`
}

// NewEnvelope wraps payload into an envelope stamped with now and a fresh id.
func NewEnvelope(msgType MessageType, payload any, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		Timestamp: now.UnixMilli(),
		Payload:   raw,
		ID:        uuid.NewString(),
	}, nil
}

// Time returns the envelope timestamp.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Mutation decodes the payload of a queue_update or remote_update envelope.
func (e *Envelope) Mutation() (Mutation, error) {
	var m Mutation
	if e.Type != MessageTypeQueueUpdate && e.Type != MessageTypeRemoteUpdate {
		return m, fmt.Errorf("%w: %q carries no mutation", ErrInvalidMessage, e.Type)
	}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Collection == "" || m.ID == "" {
		return m, fmt.Errorf("%w: missing collection or id", ErrInvalidMessage)
	}
	return m, nil
}

// JSONCodec turns envelopes into text frames and back.
type JSONCodec struct {
	// MaxMessageSize rejects frames above this many bytes when non-zero.
	MaxMessageSize int
}

func (c JSONCodec) Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if c.MaxMessageSize > 0 && len(data) > c.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(data), c.MaxMessageSize)
	}
	return data, nil
}

func (c JSONCodec) Decode(data []byte) (*Envelope, error) {
	if c.MaxMessageSize > 0 && len(data) > c.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(data), c.MaxMessageSize)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return &e, nil
}
