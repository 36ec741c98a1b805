package hub

import "errors"

// Hub-specific error types.
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRoomLaneFull      = errors.New("room event lane is full")
)
