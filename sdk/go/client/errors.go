package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrStorageDisabled  = errors.New("client has no storage")
)
