package interfaces

import (
	"context"
	"time"

	"roomhub/pkg/types"
)

// Storage is the persistence collaborator consumed by the core. Rooms,
// messages, users and read receipts are owned and serialized by the
// implementation; the core only issues commands and reads against it and
// relies on its consistency guarantees.
type Storage interface {
	// Membership reads, re-executed on every join and send.
	IsRoomMember(ctx context.Context, userID string, roomID int64) (bool, error)

	// AddMessage persists a message and returns the storage-assigned
	// message id and timestamp. Persistence must succeed before any
	// broadcast of the message.
	AddMessage(ctx context.Context, roomID int64, senderID, content string, sentiment types.Sentiment) (int64, time.Time, error)

	// RecentMessagesWithReadStatus returns one page of room history with
	// the requesting user's per-message read state, oldest first within
	// the page. Page numbering starts at 1.
	RecentMessagesWithReadStatus(ctx context.Context, roomID int64, userID string, page, pageSize int) ([]types.MessageWithReadStatus, error)

	// MarkMessageRead records a read receipt; recording the same receipt
	// twice is a no-op.
	MarkMessageRead(ctx context.Context, messageID int64, userID string) error

	// MarkAllRead records read receipts for every message in the room not
	// sent by the user.
	MarkAllRead(ctx context.Context, roomID int64, userID string) error

	// ResolveMessageRoom maps a message id to its room, failing with
	// ErrMessageNotFound if the id does not resolve.
	ResolveMessageRoom(ctx context.Context, messageID int64) (int64, error)

	// ListRoomsForUser returns the rooms the user is a durable member of.
	ListRoomsForUser(ctx context.Context, userID string) ([]*types.Room, error)

	// UpdateLastActive records user activity at connect time; failures
	// are logged by callers, never fatal to the connection.
	UpdateLastActive(ctx context.Context, userID string, at time.Time) error

	// Room administration, used by the API layer and tests.
	CreateRoom(ctx context.Context, name, createdBy string) (*types.Room, error)
	GetRoom(ctx context.Context, roomID int64) (*types.Room, error)
	AddRoomMember(ctx context.Context, roomID int64, userID string) error
	RemoveRoomMember(ctx context.Context, roomID int64, userID string) error
	EnsureUser(ctx context.Context, identity types.Identity) error

	HealthCheck(ctx context.Context) error
}
