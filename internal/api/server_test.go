package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roomhub/internal/identity"
	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

const testSecret = "api-test-secret"

func testToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// apiStorage is an in-memory interfaces.Storage covering the endpoints
// under test; unimplemented methods panic through the embedded interface.
type apiStorage struct {
	interfaces.Storage

	rooms    map[int64]*types.Room
	members  map[int64]map[string]bool
	messages map[int64][]types.MessageWithReadStatus
	readAll  map[string]int64

	healthErr error
	nextID    int64
}

func newAPIStorage() *apiStorage {
	return &apiStorage{
		rooms:    make(map[int64]*types.Room),
		members:  make(map[int64]map[string]bool),
		messages: make(map[int64][]types.MessageWithReadStatus),
		readAll:  make(map[string]int64),
	}
}

func (s *apiStorage) seedRoom(name, createdBy string, memberIDs ...string) *types.Room {
	s.nextID++
	room := &types.Room{ID: s.nextID, Name: name, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	s.rooms[room.ID] = room
	s.members[room.ID] = map[string]bool{createdBy: true}
	for _, id := range memberIDs {
		s.members[room.ID][id] = true
	}
	return room
}

func (s *apiStorage) CreateRoom(ctx context.Context, name, createdBy string) (*types.Room, error) {
	return s.seedRoom(name, createdBy), nil
}

func (s *apiStorage) GetRoom(ctx context.Context, roomID int64) (*types.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, interfaces.ErrRoomNotFound
	}
	return room, nil
}

func (s *apiStorage) IsRoomMember(ctx context.Context, userID string, roomID int64) (bool, error) {
	return s.members[roomID][userID], nil
}

func (s *apiStorage) ListRoomsForUser(ctx context.Context, userID string) ([]*types.Room, error) {
	var out []*types.Room
	for roomID, members := range s.members {
		if members[userID] {
			out = append(out, s.rooms[roomID])
		}
	}
	return out, nil
}

func (s *apiStorage) RecentMessagesWithReadStatus(ctx context.Context, roomID int64, userID string, page, pageSize int) ([]types.MessageWithReadStatus, error) {
	return s.messages[roomID], nil
}

func (s *apiStorage) MarkAllRead(ctx context.Context, roomID int64, userID string) error {
	s.readAll[userID] = roomID
	return nil
}

func (s *apiStorage) AddRoomMember(ctx context.Context, roomID int64, userID string) error {
	if _, ok := s.rooms[roomID]; !ok {
		return interfaces.ErrRoomNotFound
	}
	s.members[roomID][userID] = true
	return nil
}

func (s *apiStorage) RemoveRoomMember(ctx context.Context, roomID int64, userID string) error {
	delete(s.members[roomID], userID)
	return nil
}

func (s *apiStorage) HealthCheck(ctx context.Context) error {
	return s.healthErr
}

// fakeRegistry reports fixed live-connection state.
type fakeRegistry struct {
	groups map[int64][]string
}

func (r *fakeRegistry) ConnectionsInGroup(roomID int64) []string {
	return r.groups[roomID]
}

func (r *fakeRegistry) Stats() map[string]int {
	total := 0
	for _, conns := range r.groups {
		total += len(conns)
	}
	return map[string]int{"total_connections": total}
}

func newTestServer(t *testing.T) (*apiStorage, *fakeRegistry, *httptest.Server) {
	t.Helper()

	storage := newAPIStorage()
	reg := &fakeRegistry{groups: make(map[int64][]string)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ws := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}
	server := NewServer(storage, reg, identity.NewVerifier(testSecret), ws, logger)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return storage, reg, ts
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/rooms", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credential, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/rooms", "garbage", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad credential, got %d", resp.StatusCode)
	}
}

func TestAPI_CreateRoom(t *testing.T) {
	storage, _, ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/rooms", testToken(t, "alice"), `{"name":"general"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var out RoomResponse
	decodeBody(t, resp, &out)
	if out.Room.Name != "general" || out.Room.CreatedBy != "alice" {
		t.Errorf("unexpected room %+v", out.Room)
	}

	if !storage.members[out.Room.ID]["alice"] {
		t.Error("creator not recorded as member")
	}
}

func TestAPI_CreateRoomRejectsInvalidName(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/rooms", testToken(t, "alice"), `{"name":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty name, got %d", resp.StatusCode)
	}
}

func TestAPI_ListRoomsScopedToCaller(t *testing.T) {
	storage, reg, ts := newTestServer(t)
	room := storage.seedRoom("general", "alice")
	storage.seedRoom("private", "bob")
	reg.groups[room.ID] = []string{"c1", "c2"}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/rooms", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out ListRoomsResponse
	decodeBody(t, resp, &out)
	if len(out.Rooms) != 1 || out.Rooms[0].ID != room.ID {
		t.Fatalf("expected only alice's room, got %+v", out.Rooms)
	}
	if out.Rooms[0].ConnectionCount != 2 {
		t.Errorf("expected live connection count 2, got %d", out.Rooms[0].ConnectionCount)
	}
}

func TestAPI_GetRoomEnforcesMembership(t *testing.T) {
	storage, _, ts := newTestServer(t)
	room := storage.seedRoom("general", "alice")

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/rooms/1", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d", resp.StatusCode)
	}
	var out RoomResponse
	decodeBody(t, resp, &out)
	if out.Room.ID != room.ID {
		t.Errorf("unexpected room %+v", out.Room)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/rooms/1", testToken(t, "mallory"), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-member, got %d", resp.StatusCode)
	}
}

func TestAPI_GetRoomInvalidID(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/rooms/zero", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", resp.StatusCode)
	}
}

func TestAPI_ListMessages(t *testing.T) {
	storage, _, ts := newTestServer(t)
	room := storage.seedRoom("general", "alice")
	storage.messages[room.ID] = []types.MessageWithReadStatus{
		{Message: types.Message{ID: 1, RoomID: room.ID, SenderID: "alice", Content: "hi"}},
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/rooms/1/messages", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out ListMessagesResponse
	decodeBody(t, resp, &out)
	if len(out.Messages) != 1 || out.Messages[0].Message.Content != "hi" {
		t.Errorf("unexpected messages %+v", out.Messages)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/rooms/1/messages", testToken(t, "mallory"), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-member history read, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/rooms/1/messages?page=0", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad pagination, got %d", resp.StatusCode)
	}
}

func TestAPI_MarkAllRead(t *testing.T) {
	storage, _, ts := newTestServer(t)
	room := storage.seedRoom("general", "alice")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/rooms/1/read", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if storage.readAll["alice"] != room.ID {
		t.Error("MarkAllRead not invoked for caller")
	}
}

func TestAPI_AddMember(t *testing.T) {
	storage, _, ts := newTestServer(t)
	storage.seedRoom("general", "alice")

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/rooms/1/members", testToken(t, "alice"), `{"user_id":"bob"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if !storage.members[1]["bob"] {
		t.Error("bob not added as member")
	}

	// Non-members cannot invite.
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/rooms/1/members", testToken(t, "mallory"), `{"user_id":"eve"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/rooms/1/members", testToken(t, "alice"), `{"user_id":"bad id!"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid user id, got %d", resp.StatusCode)
	}
}

func TestAPI_RemoveMemberPermissions(t *testing.T) {
	storage, _, ts := newTestServer(t)
	storage.seedRoom("general", "alice", "bob", "carol")

	// A member may remove themselves.
	resp := doRequest(t, http.MethodDelete, ts.URL+"/api/rooms/1/members/bob", testToken(t, "bob"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for self-removal, got %d", resp.StatusCode)
	}
	if storage.members[1]["bob"] {
		t.Error("bob still a member after self-removal")
	}

	// Only the creator may remove others.
	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/rooms/1/members/alice", testToken(t, "carol"), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-creator removal, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/rooms/1/members/carol", testToken(t, "alice"), "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for creator removal, got %d", resp.StatusCode)
	}
	if storage.members[1]["carol"] {
		t.Error("carol still a member after creator removal")
	}
}

func TestAPI_HealthEndpoint(t *testing.T) {
	storage, reg, ts := newTestServer(t)
	reg.groups[1] = []string{"c1"}

	resp := doRequest(t, http.MethodGet, ts.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out HealthResponse
	decodeBody(t, resp, &out)
	if out.Status != "healthy" || out.Connections["total_connections"] != 1 {
		t.Errorf("unexpected health payload %+v", out)
	}

	storage.healthErr = errors.New("disk full")
	resp = doRequest(t, http.MethodGet, ts.URL+"/health", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when storage is down, got %d", resp.StatusCode)
	}
}
