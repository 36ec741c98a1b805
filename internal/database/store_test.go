package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(Config{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 4,
	}, logger)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_CreateRoomAddsCreatorMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if room.ID <= 0 {
		t.Errorf("expected positive room id, got %d", room.ID)
	}

	member, err := store.IsRoomMember(ctx, "alice", room.ID)
	if err != nil {
		t.Fatalf("IsRoomMember failed: %v", err)
	}
	if !member {
		t.Error("creator must be a member of the new room")
	}

	member, err = store.IsRoomMember(ctx, "bob", room.ID)
	if err != nil {
		t.Fatalf("IsRoomMember failed: %v", err)
	}
	if member {
		t.Error("non-member reported as member")
	}
}

func TestStore_CreateRoomValidatesInput(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateRoom(context.Background(), "", "alice"); !errors.Is(err, types.ErrInvalidRoomName) {
		t.Errorf("expected ErrInvalidRoomName, got %v", err)
	}
	if _, err := store.CreateRoom(context.Background(), "general", "bad user!"); !errors.Is(err, types.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestStore_GetRoomNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRoom(context.Background(), 404)
	if !errors.Is(err, interfaces.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestStore_MembershipLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	if err := store.AddRoomMember(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("AddRoomMember failed: %v", err)
	}
	// Adding again is a no-op.
	if err := store.AddRoomMember(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("repeated AddRoomMember failed: %v", err)
	}

	member, err := store.IsRoomMember(ctx, "bob", room.ID)
	if err != nil || !member {
		t.Errorf("expected bob to be a member, got member=%v err=%v", member, err)
	}

	if err := store.RemoveRoomMember(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("RemoveRoomMember failed: %v", err)
	}
	member, err = store.IsRoomMember(ctx, "bob", room.ID)
	if err != nil || member {
		t.Errorf("expected bob removed, got member=%v err=%v", member, err)
	}

	if err := store.AddRoomMember(ctx, 404, "bob"); !errors.Is(err, interfaces.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound for unknown room, got %v", err)
	}
}

func TestStore_AddMessageAssignsIncreasingIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	var lastID int64
	for i := 0; i < 5; i++ {
		id, sentAt, err := store.AddMessage(ctx, room.ID, "alice",
			fmt.Sprintf("message %d", i), types.NeutralSentiment())
		if err != nil {
			t.Fatalf("AddMessage %d failed: %v", i, err)
		}
		if id <= lastID {
			t.Errorf("message ids must be strictly increasing, got %d after %d", id, lastID)
		}
		if sentAt.IsZero() {
			t.Error("AddMessage returned zero timestamp")
		}
		lastID = id
	}
}

func TestStore_RecentMessagesChronologicalWithReadStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		id, _, err := store.AddMessage(ctx, room.ID, "alice",
			fmt.Sprintf("message %d", i), types.Sentiment{Score: "0.5", Label: types.SentimentPositive})
		if err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
		ids = append(ids, id)
	}

	if err := store.MarkMessageRead(ctx, ids[0], "bob"); err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}

	messages, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "bob", 1, 50)
	if err != nil {
		t.Fatalf("RecentMessagesWithReadStatus failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	for i, m := range messages {
		if m.Message.Content != fmt.Sprintf("message %d", i) {
			t.Errorf("page not chronological: position %d holds %q", i, m.Message.Content)
		}
		if m.Message.SentimentLabel != types.SentimentPositive {
			t.Errorf("sentiment not round-tripped: %q", m.Message.SentimentLabel)
		}
	}
	if !messages[0].IsRead {
		t.Error("first message should be read by bob")
	}
	if messages[1].IsRead || messages[2].IsRead {
		t.Error("unread messages reported as read")
	}
}

func TestStore_RecentMessagesPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, _, err := store.AddMessage(ctx, room.ID, "alice",
			fmt.Sprintf("message %d", i), types.NeutralSentiment()); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	// Page 1 holds the 2 newest messages, chronological within the page.
	page1, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "alice", 1, 2)
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1) != 2 || page1[0].Message.Content != "message 3" || page1[1].Message.Content != "message 4" {
		t.Errorf("unexpected page 1: %+v", page1)
	}

	page2, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "alice", 2, 2)
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if len(page2) != 2 || page2[0].Message.Content != "message 1" {
		t.Errorf("unexpected page 2: %+v", page2)
	}

	// An empty page, not an error, past the end.
	page4, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "alice", 4, 2)
	if err != nil {
		t.Fatalf("page 4 failed: %v", err)
	}
	if len(page4) != 0 {
		t.Errorf("expected empty page past the end, got %d rows", len(page4))
	}
}

func TestStore_MarkMessageReadIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	id, _, err := store.AddMessage(ctx, room.ID, "alice", "hello", types.NeutralSentiment())
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.MarkMessageRead(ctx, id, "bob"); err != nil {
			t.Fatalf("MarkMessageRead attempt %d failed: %v", i, err)
		}
	}

	messages, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "bob", 1, 10)
	if err != nil {
		t.Fatalf("RecentMessagesWithReadStatus failed: %v", err)
	}
	if len(messages) != 1 || !messages[0].IsRead {
		t.Errorf("expected single read message, got %+v", messages)
	}
}

func TestStore_MarkAllReadSkipsOwnMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	if _, _, err := store.AddMessage(ctx, room.ID, "alice", "from alice", types.NeutralSentiment()); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, _, err := store.AddMessage(ctx, room.ID, "bob", "from bob", types.NeutralSentiment()); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	if err := store.MarkAllRead(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}

	messages, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "bob", 1, 10)
	if err != nil {
		t.Fatalf("RecentMessagesWithReadStatus failed: %v", err)
	}
	for _, m := range messages {
		switch m.Message.SenderID {
		case "alice":
			if !m.IsRead {
				t.Error("peer message not marked read")
			}
		case "bob":
			if m.IsRead {
				t.Error("own message must not get a receipt")
			}
		}
	}
}

func TestStore_ResolveMessageRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	id, _, err := store.AddMessage(ctx, room.ID, "alice", "hello", types.NeutralSentiment())
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	got, err := store.ResolveMessageRoom(ctx, id)
	if err != nil {
		t.Fatalf("ResolveMessageRoom failed: %v", err)
	}
	if got != room.ID {
		t.Errorf("expected room %d, got %d", room.ID, got)
	}

	if _, err := store.ResolveMessageRoom(ctx, 424242); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestStore_ListRoomsForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room1, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "private", "bob"); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	rooms, err := store.ListRoomsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListRoomsForUser failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != room1.ID {
		t.Errorf("expected alice to see only her room, got %+v", rooms)
	}

	rooms, err = store.ListRoomsForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListRoomsForUser failed: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected no rooms for unknown user, got %d", len(rooms))
	}
}

func TestStore_EnsureUserPreservesNames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureUser(ctx, types.Identity{UserID: "alice", UserName: "Alice", FullName: "Alice Example"}); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	// A later connect without name claims must not blank the names.
	if err := store.EnsureUser(ctx, types.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	room, err := store.CreateRoom(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if _, _, err := store.AddMessage(ctx, room.ID, "alice", "hello", types.NeutralSentiment()); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	messages, err := store.RecentMessagesWithReadStatus(ctx, room.ID, "alice", 1, 10)
	if err != nil {
		t.Fatalf("RecentMessagesWithReadStatus failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Message.SenderName != "Alice" {
		t.Errorf("expected sender name Alice, got %+v", messages)
	}
}

func TestStore_UpdateLastActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpdateLastActive(ctx, "alice", time.Now()); err != nil {
		t.Fatalf("UpdateLastActive for new user failed: %v", err)
	}
	if err := store.UpdateLastActive(ctx, "alice", time.Now()); err != nil {
		t.Fatalf("UpdateLastActive for existing user failed: %v", err)
	}
}

func TestStore_HealthCheck(t *testing.T) {
	store := newTestStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed on a healthy store: %v", err)
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
