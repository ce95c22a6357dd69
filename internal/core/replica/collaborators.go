package replica

import "github.com/zeusync/replica/internal/core/protocol"

// Transport is the link to the sync server. Send returning nil means the
// message was accepted for delivery, not that the server applied it;
// acknowledgment arrives later through ApplyRemote.
type Transport interface {
	IsConnected() bool
	OnStateChange(func(protocol.ConnectionState)) (unsubscribe func())
	Send(msgType protocol.MessageType, payload any) error
}

// Network reports host-level reachability.
type Network interface {
	IsOffline() bool
	OnStatusChange(func(online bool)) (unsubscribe func())
}

// detached is used when a store is built without a transport. It never
// connects, so every mutation stays queued.
type detached struct{}

func (detached) IsConnected() bool { return false }

func (detached) OnStateChange(func(protocol.ConnectionState)) func() { return func() {} }

func (detached) Send(protocol.MessageType, any) error { return protocol.ErrNotConnected }

// alwaysOnline is used when a store is built without a network observer.
type alwaysOnline struct{}

func (alwaysOnline) IsOffline() bool { return false }

func (alwaysOnline) OnStatusChange(func(bool)) func() { return func() {} }
