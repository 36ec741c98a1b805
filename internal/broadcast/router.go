package broadcast

import (
	"log/slog"
	"time"

	"roomhub/internal/registry"
	"roomhub/pkg/types"
)

// Router delivers events to the live connections of a room group. It
// never computes group membership itself: every delivery starts from a
// registry snapshot, which is the single source of truth for "who is
// currently reachable for room R". A snapshot may be microseconds stale
// by delivery time, so writing to a connection that has since
// disconnected is a best-effort no-op, never an error for the caller.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewRouter creates a broadcast router over a registry.
func NewRouter(reg *registry.Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: reg,
		logger:   logger,
	}
}

// SendToRoom delivers an event to every connection currently in the
// room's group. Delivery continues past individual write failures so one
// slow or vanished connection never starves the rest of the group.
func (r *Router) SendToRoom(roomID int64, eventType string, payload any) {
	r.deliver(roomID, eventType, payload, "")
}

// SendToRoomExcept delivers as SendToRoom, skipping one connection id.
// Used so a sender does not receive an echo of its own typing events;
// message sends do echo to the sender, since persistence confirmation
// doubles as the send acknowledgment.
func (r *Router) SendToRoomExcept(roomID int64, eventType string, payload any, excludedConnectionID string) {
	r.deliver(roomID, eventType, payload, excludedConnectionID)
}

// SendToConnection delivers an event directly to one connection: error
// reports, join confirmations, heartbeat responses. Returns
// ErrConnectionGone if the connection is no longer registered.
func (r *Router) SendToConnection(connectionID string, eventType string, payload any) error {
	conn, ok := r.registry.Get(connectionID)
	if !ok {
		return ErrConnectionGone
	}

	event := types.Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := conn.WriteEvent(event); err != nil {
		r.logger.Warn("direct delivery failed",
			slog.String("event", eventType),
			slog.String("connection_id", connectionID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (r *Router) deliver(roomID int64, eventType string, payload any, excludedConnectionID string) {
	event := types.Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for _, id := range r.registry.ConnectionsInGroup(roomID) {
		if id == excludedConnectionID {
			continue
		}

		conn, ok := r.registry.Get(id)
		if !ok {
			// Disconnected between snapshot and delivery: accepted race.
			continue
		}

		if err := conn.WriteEvent(event); err != nil {
			r.logger.Warn("group delivery failed",
				slog.String("event", eventType),
				slog.Int64("room_id", roomID),
				slog.String("connection_id", id),
				slog.Any("error", err))
		}
	}
}
