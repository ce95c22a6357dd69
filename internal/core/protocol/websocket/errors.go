package websocket

import "errors"

var (
	ErrAlreadyStarted  = errors.New("transport already started")
	ErrReconnectFailed = errors.New("reconnection failed")
	ErrInvalidConfig   = errors.New("invalid transport configuration")
)
