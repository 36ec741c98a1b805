package broadcast

import "errors"

// Router error types.
var (
	ErrConnectionGone = errors.New("connection is no longer registered")
)
