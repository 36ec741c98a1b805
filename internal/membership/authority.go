package membership

import (
	"context"
	"fmt"

	"roomhub/pkg/interfaces"
)

// Authority answers "is user U a member of room R" against the storage
// collaborator. The check is re-executed on every join and every send:
// membership can change between operations, so results are never cached
// across calls. Live group association in the registry is a separate
// concept and is not consulted here.
type Authority struct {
	storage interfaces.Storage
}

// NewAuthority creates a membership authority over a storage collaborator.
func NewAuthority(storage interfaces.Storage) *Authority {
	return &Authority{storage: storage}
}

// IsMember reports durable room membership.
func (a *Authority) IsMember(ctx context.Context, userID string, roomID int64) (bool, error) {
	ok, err := a.storage.IsRoomMember(ctx, userID, roomID)
	if err != nil {
		return false, fmt.Errorf("membership check for user %s in room %d: %w", userID, roomID, err)
	}
	return ok, nil
}

// EnsureMember fails with interfaces.ErrNotAuthorized when the user is
// not a member, so join and send handlers can reject the operation and
// report to the caller only.
func (a *Authority) EnsureMember(ctx context.Context, userID string, roomID int64) error {
	ok, err := a.IsMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return interfaces.ErrNotAuthorized
	}
	return nil
}
