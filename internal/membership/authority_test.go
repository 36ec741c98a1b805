package membership

import (
	"context"
	"errors"
	"testing"

	"roomhub/pkg/interfaces"
)

// membershipStorage stubs only the membership read; the embedded
// interface panics on anything else, which no test here touches.
type membershipStorage struct {
	interfaces.Storage
	member bool
	err    error
}

func (s *membershipStorage) IsRoomMember(ctx context.Context, userID string, roomID int64) (bool, error) {
	return s.member, s.err
}

func TestAuthority_IsMember(t *testing.T) {
	auth := NewAuthority(&membershipStorage{member: true})

	ok, err := auth.IsMember(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if !ok {
		t.Error("expected membership")
	}
}

func TestAuthority_IsMemberStorageError(t *testing.T) {
	storageErr := errors.New("storage unavailable")
	auth := NewAuthority(&membershipStorage{err: storageErr})

	_, err := auth.IsMember(context.Background(), "alice", 5)
	if !errors.Is(err, storageErr) {
		t.Errorf("expected wrapped storage error, got %v", err)
	}
}

func TestAuthority_EnsureMemberAuthorized(t *testing.T) {
	auth := NewAuthority(&membershipStorage{member: true})

	if err := auth.EnsureMember(context.Background(), "alice", 5); err != nil {
		t.Errorf("expected nil for a member, got %v", err)
	}
}

func TestAuthority_EnsureMemberDenied(t *testing.T) {
	auth := NewAuthority(&membershipStorage{member: false})

	err := auth.EnsureMember(context.Background(), "alice", 5)
	if !errors.Is(err, interfaces.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestAuthority_EnsureMemberStorageErrorIsNotDenial(t *testing.T) {
	auth := NewAuthority(&membershipStorage{err: errors.New("storage unavailable")})

	err := auth.EnsureMember(context.Background(), "alice", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, interfaces.ErrNotAuthorized) {
		t.Error("a storage failure must not masquerade as an authorization denial")
	}
}
