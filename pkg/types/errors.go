package types

import "errors"

// Validation errors shared across transport and API layers.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID   = errors.New("room ID must be a positive integer")
	ErrInvalidRoomName = errors.New("room name must be 1-200 characters")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
)
