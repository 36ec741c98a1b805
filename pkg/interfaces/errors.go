package interfaces

import "errors"

// Cross-component errors shared between collaborators and the core.
var (
	ErrUnauthenticated = errors.New("no valid identity for credential")
	ErrNotAuthorized   = errors.New("user is not a member of this room")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)
