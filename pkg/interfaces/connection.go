package interfaces

import (
	"roomhub/pkg/types"
)

// Connection is a single live transport-level session between one client
// and the server. The transport layer owns the concrete implementation;
// the registry and broadcast router only hold it through this interface,
// which keeps the core independent of the websocket library.
type Connection interface {
	// ID is the opaque, server-assigned connection identifier.
	ID() string
	// UserID is the verified owning user identity.
	UserID() string
	// UserName is the optional display name from the identity claims.
	UserName() string
	// WriteEvent queues an event for delivery. Writes to a closed
	// connection fail; broadcast treats that as a best-effort no-op.
	WriteEvent(event types.Event) error
	Close() error
}
