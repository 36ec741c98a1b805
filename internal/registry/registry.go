package registry

import (
	"sync"

	"roomhub/pkg/interfaces"
)

// Registry is the single source of truth for which live connections
// belong to which user and which room groups. All three maps are updated
// under one mutex so a connection event (connect, join, leave,
// disconnect) is atomic to every reader: no reader can observe a
// connection in the user index but missing from the connection map, or a
// group entry pointing at an unregistered connection.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry              // connection id -> entry
	userIndex   map[string]map[string]struct{} // user id -> connection id set
	groupIndex  map[int64]map[string]struct{}  // room id -> connection id set
}

// entry is the registry's record for one live connection. It is owned
// exclusively by the registry; callers only ever receive the Connection
// handle and id snapshots.
type entry struct {
	conn   interfaces.Connection
	userID string
	groups map[int64]struct{}
}

// NewRegistry creates an empty connection registry. All maps are
// initialized up front to prevent nil access under concurrency.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*entry),
		userIndex:   make(map[string]map[string]struct{}),
		groupIndex:  make(map[int64]map[string]struct{}),
	}
}

// Register adds a connection with an empty group set and indexes it under
// its owning user. Fails with ErrDuplicateConnection if the id is already
// registered; transport-assigned ids make that unreachable in practice,
// and a hit is treated as fatal to the registration.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	id := conn.ID()
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; exists {
		return ErrDuplicateConnection
	}

	r.connections[id] = &entry{
		conn:   conn,
		userID: userID,
		groups: make(map[int64]struct{}),
	}

	if r.userIndex[userID] == nil {
		r.userIndex[userID] = make(map[string]struct{})
	}
	r.userIndex[userID][id] = struct{}{}

	return nil
}

// Unregister removes a connection from every group it was in and from the
// user index. Idempotent: disconnect may race with an already-cleaned-up
// state, so an unknown id is a no-op. Empty user and group entries are
// pruned to prevent unbounded map growth.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return
	}

	for roomID := range e.groups {
		r.removeFromGroupLocked(roomID, connectionID)
	}

	if conns, ok := r.userIndex[e.userID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.userIndex, e.userID)
		}
	}

	delete(r.connections, connectionID)
}

// JoinGroup idempotently adds the room's group to the connection's group
// set. Fails with ErrUnknownConnection if the id is not registered, e.g.
// an operation that arrived after disconnect.
func (r *Registry) JoinGroup(connectionID string, roomID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return ErrUnknownConnection
	}

	e.groups[roomID] = struct{}{}
	if r.groupIndex[roomID] == nil {
		r.groupIndex[roomID] = make(map[string]struct{})
	}
	r.groupIndex[roomID][connectionID] = struct{}{}

	return nil
}

// LeaveGroup idempotently removes the room's group from the connection's
// group set. Fails with ErrUnknownConnection if the id is not registered.
func (r *Registry) LeaveGroup(connectionID string, roomID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return ErrUnknownConnection
	}

	delete(e.groups, roomID)
	r.removeFromGroupLocked(roomID, connectionID)

	return nil
}

// InGroup reports whether the connection currently has the room's group
// in its set. Fails with ErrUnknownConnection for unregistered ids.
func (r *Registry) InGroup(connectionID string, roomID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return false, ErrUnknownConnection
	}

	_, in := e.groups[roomID]
	return in, nil
}

// GroupsForConnection returns a snapshot of the room ids the connection
// has joined. Fails with ErrUnknownConnection, never silently returns an
// empty set for an unknown id.
func (r *Registry) GroupsForConnection(connectionID string) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return nil, ErrUnknownConnection
	}

	groups := make([]int64, 0, len(e.groups))
	for roomID := range e.groups {
		groups = append(groups, roomID)
	}
	return groups, nil
}

// ConnectionsInGroup returns a point-in-time snapshot of the connection
// ids currently in the room's group. The returned slice is detached from
// registry state: callers iterate it to broadcast while the registry may
// be concurrently mutated by other connections' events.
func (r *Registry) ConnectionsInGroup(roomID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groupIndex[roomID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionsForUser returns the snapshot set of a user's live connection
// ids. A user with no live connections is a normal state, so an unknown
// user yields an empty snapshot rather than an error.
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.userIndex[userID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the live connection handle for an id. The boolean form
// mirrors map lookup because broadcast treats a miss as a vanished
// connection, not an error.
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return nil, false
	}
	return e.conn, true
}

// Stats returns registry statistics for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"connected_users":   len(r.userIndex),
		"active_groups":     len(r.groupIndex),
	}
}

// removeFromGroupLocked removes a connection id from the group index and
// prunes the group entry once empty. Callers must hold the write lock.
func (r *Registry) removeFromGroupLocked(roomID int64, connectionID string) {
	members, ok := r.groupIndex[roomID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.groupIndex, roomID)
	}
}
