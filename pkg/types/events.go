package types

import (
	"time"
)

// Server-to-client event type constants. Every frame written to a
// connection is an Event envelope carrying one of these types.
const (
	EventJoinedRoom         = "joined_room"
	EventLeftRoom           = "left_room"
	EventLoadRecentMessages = "load_recent_messages"
	EventReceiveMessage     = "receive_message"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventMessageRead        = "message_read"
	EventError              = "error"
	EventHeartbeatResponse  = "heartbeat_response"
	EventConnectionInfo     = "connection_info"
)

// Client-to-server operation constants carried in the "op" field of
// inbound frames.
const (
	OpJoinRoom       = "join_room"
	OpLeaveRoom      = "leave_room"
	OpSendMessage    = "send_message"
	OpTypingStart    = "typing_start"
	OpTypingStop     = "typing_stop"
	OpMarkRead       = "mark_read"
	OpHeartbeat      = "heartbeat"
	OpConnectionInfo = "connection_info"
)

// Event is the wire envelope for every server-to-client frame.
// Payload shapes are fixed per event type; Timestamp is stamped at
// delivery time by the broadcast router.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomEvent confirms a room-scoped operation back to the caller
// (joined_room, left_room).
type RoomEvent struct {
	RoomID int64 `json:"room_id"`
}

// UserRoomEvent notifies a group about another user's presence change
// (user_joined, user_left, user_typing, user_stopped_typing).
type UserRoomEvent struct {
	RoomID   int64  `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// MessageReadEvent notifies a group that a user has read a message.
type MessageReadEvent struct {
	MessageID int64  `json:"message_id"`
	UserID    string `json:"user_id"`
}

// RecentMessagesEvent replays a page of room history, oldest first, to
// the joining connection only.
type RecentMessagesEvent struct {
	RoomID   int64                   `json:"room_id"`
	Messages []MessageWithReadStatus `json:"messages"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// ErrorEvent reports an operation failure to the offending caller only.
// Authorization and upstream failures are never broadcast.
type ErrorEvent struct {
	Message string `json:"message"`
}

// HeartbeatResponseEvent answers a heartbeat with the server clock.
type HeartbeatResponseEvent struct {
	ServerTime time.Time `json:"server_time"`
}

// ConnectionInfoEvent describes the caller's own connection: its
// server-assigned id, identity, the rooms it may join, and the room
// groups it is currently in.
type ConnectionInfoEvent struct {
	ConnectionID   string  `json:"connection_id"`
	UserID         string  `json:"user_id"`
	AvailableRooms []*Room `json:"available_rooms"`
	ActiveRooms    []int64 `json:"active_rooms"`
}
