package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrMalformedFrame   = errors.New("malformed frame: expected {\"event\", \"data\"}")
)
