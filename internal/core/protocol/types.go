package protocol

// ConnectionState is reported by a transport whenever its link changes.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MessageType routes an envelope on both ends of the link.
type MessageType string

const (
	// MessageTypeQueueUpdate carries a local mutation to the server.
	MessageTypeQueueUpdate MessageType = "queue_update"
	// MessageTypeRemoteUpdate carries an accepted server-side change to the
	// client. Its payload has the same shape as a queue update.
	MessageTypeRemoteUpdate MessageType = "remote_update"
)

func (t MessageType) String() string {
	return string(t)
}
