package protocol

import "errors"

var (
	ErrNotConnected    = errors.New("transport is not connected")
	ErrClosed          = errors.New("transport is closed")
	ErrSendRejected    = errors.New("send rejected by transport")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMessageTooLarge = errors.New("message too large")
)
