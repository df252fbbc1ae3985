package router

import "errors"

var (
	ErrUnknownEvent    = errors.New("unknown event")
	ErrHandlerPanicked = errors.New("internal error")
)
