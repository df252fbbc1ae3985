package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNotJoined         = errors.New("not joined to any session")
	ErrNotJoinedSession  = errors.New("not joined to this session")
	ErrPersistQueueFull  = errors.New("persist queue is full")
	ErrZeroSignal        = errors.New("attention and relaxation are both zero, check the headset")
)
