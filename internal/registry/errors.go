package registry

import "errors"

// Registry error types. ErrUnknownConnection distinguishes "connection
// never existed / already gone" from "no rooms joined yet", so callers
// can tell a missing connection from an empty result.
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection id is already registered")
	ErrUnknownConnection   = errors.New("connection id is not registered")
)
