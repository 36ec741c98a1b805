package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// Registry is the slice of the connection registry the API reads.
// Narrowed to an interface so the server never couples to live
// connection handles.
type Registry interface {
	ConnectionsInGroup(roomID int64) []string
	Stats() map[string]int
}

// Server is the REST surface for room administration and history reads.
// No business logic lives here; handlers translate HTTP into storage and
// registry calls and JSON back out.
type Server struct {
	storage  interfaces.Storage
	registry Registry
	verifier interfaces.IdentityVerifier
	router   chi.Router
	logger   *slog.Logger
}

// NewServer wires the handlers onto a chi router. The websocket handler
// is mounted alongside the API routes so one listener serves both.
func NewServer(storage interfaces.Storage, registry Registry, verifier interfaces.IdentityVerifier, wsHandler http.HandlerFunc, logger *slog.Logger) *Server {
	s := &Server{
		storage:  storage,
		registry: registry,
		verifier: verifier,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthCheck)
	r.Get("/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(jsonMiddleware)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.createRoom)
			r.Get("/", s.listRooms)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", s.getRoom)
				r.Get("/messages", s.listMessages)
				r.Post("/read", s.markAllRead)
				r.Post("/members", s.addMember)
				r.Delete("/members/{userID}", s.removeMember)
			})
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type contextKey string

const identityKey contextKey = "identity"

// authMiddleware verifies the bearer credential and stashes the caller's
// identity in the request context. API routes never run unauthenticated.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		identity, err := s.verifier.Verify(r.Context(), credential)
		if err != nil {
			s.sendError(w, "Invalid or missing credential", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerIdentity(r *http.Request) *types.Identity {
	identity, _ := r.Context().Value(identityKey).(*types.Identity)
	return identity
}

// Request and response shapes.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

type RoomResponse struct {
	Room            *types.Room `json:"room"`
	ConnectionCount int         `json:"connection_count"`
}

type ListRoomsResponse struct {
	Rooms []RoomWithConnections `json:"rooms"`
}

type RoomWithConnections struct {
	*types.Room
	ConnectionCount int `json:"connection_count"`
}

type ListMessagesResponse struct {
	RoomID   int64                         `json:"room_id"`
	Page     int                           `json:"page"`
	Messages []types.MessageWithReadStatus `json:"messages"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createRoom handles POST /api/rooms. The caller becomes the room's
// creator and first durable member in one storage transaction.
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	room := &types.Room{Name: req.Name, CreatedBy: caller.UserID}
	if err := room.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := s.storage.CreateRoom(r.Context(), req.Name, caller.UserID)
	if err != nil {
		s.logger.Error("room creation failed", slog.Any("error", err))
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, RoomResponse{
		Room:            created,
		ConnectionCount: len(s.registry.ConnectionsInGroup(created.ID)),
	})
}

// listRooms handles GET /api/rooms, scoped to the caller's memberships.
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	rooms, err := s.storage.ListRoomsForUser(r.Context(), caller.UserID)
	if err != nil {
		s.logger.Error("room listing failed", slog.Any("error", err))
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	out := make([]RoomWithConnections, len(rooms))
	for i, room := range rooms {
		out[i] = RoomWithConnections{
			Room:            room,
			ConnectionCount: len(s.registry.ConnectionsInGroup(room.ID)),
		}
	}

	s.writeJSON(w, ListRoomsResponse{Rooms: out})
}

// getRoom handles GET /api/rooms/{roomID} with the live connection count.
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomIDParam(w, r)
	if !ok {
		return
	}

	if !s.requireMember(w, r, roomID) {
		return
	}

	room, err := s.storage.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
		} else {
			s.logger.Error("room lookup failed", slog.Any("error", err))
			s.sendError(w, "Failed to get room", http.StatusInternalServerError)
		}
		return
	}

	s.writeJSON(w, RoomResponse{
		Room:            room,
		ConnectionCount: len(s.registry.ConnectionsInGroup(room.ID)),
	})
}

// listMessages handles GET /api/rooms/{roomID}/messages with page and
// page_size query parameters. History reads require durable membership,
// same as the realtime path.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	roomID, ok := s.roomIDParam(w, r)
	if !ok {
		return
	}

	if !s.requireMember(w, r, roomID) {
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if page < 1 || pageSize < 1 || pageSize > 200 {
		s.sendError(w, "Invalid pagination parameters", http.StatusBadRequest)
		return
	}

	messages, err := s.storage.RecentMessagesWithReadStatus(r.Context(), roomID, caller.UserID, page, pageSize)
	if err != nil {
		s.logger.Error("message listing failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		s.sendError(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, ListMessagesResponse{
		RoomID:   roomID,
		Page:     page,
		Messages: messages,
	})
}

// markAllRead handles POST /api/rooms/{roomID}/read, recording receipts
// for every message in the room the caller has not yet read.
func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	roomID, ok := s.roomIDParam(w, r)
	if !ok {
		return
	}

	if !s.requireMember(w, r, roomID) {
		return
	}

	if err := s.storage.MarkAllRead(r.Context(), roomID, caller.UserID); err != nil {
		s.logger.Error("mark all read failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		s.sendError(w, "Failed to mark messages read", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]string{"message": "All messages marked read"})
}

// addMember handles POST /api/rooms/{roomID}/members. Any durable member
// can invite another user.
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomIDParam(w, r)
	if !ok {
		return
	}

	if !s.requireMember(w, r, roomID) {
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if err := s.storage.AddRoomMember(r.Context(), roomID, req.UserID); err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			s.sendError(w, "Room not found", http.StatusNotFound)
		} else {
			s.logger.Error("member add failed",
				slog.Int64("room_id", roomID), slog.Any("error", err))
			s.sendError(w, "Failed to add member", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]string{"message": "Member added"})
}

// removeMember handles DELETE /api/rooms/{roomID}/members/{userID}.
// Callers may remove themselves; removing others requires being the
// room's creator.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	roomID, ok := s.roomIDParam(w, r)
	if !ok {
		return
	}

	targetID := chi.URLParam(r, "userID")
	if !types.IsValidUserID(targetID) {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if targetID != caller.UserID {
		room, err := s.storage.GetRoom(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, interfaces.ErrRoomNotFound) {
				s.sendError(w, "Room not found", http.StatusNotFound)
			} else {
				s.logger.Error("room lookup failed", slog.Any("error", err))
				s.sendError(w, "Failed to get room", http.StatusInternalServerError)
			}
			return
		}
		if room.CreatedBy != caller.UserID {
			s.sendError(w, "Only the room creator can remove other members", http.StatusForbidden)
			return
		}
	}

	if err := s.storage.RemoveRoomMember(r.Context(), roomID, targetID); err != nil {
		s.logger.Error("member removal failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		s.sendError(w, "Failed to remove member", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]string{"message": "Member removed"})
}

// healthCheck handles GET /health. Unauthenticated so load balancers can
// probe it.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.storage.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	s.writeJSON(w, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
	})
}

// roomIDParam parses the {roomID} URL parameter, answering 400 itself on
// failure.
func (s *Server) roomIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return 0, false
	}
	return roomID, true
}

// requireMember enforces durable membership for room-scoped reads and
// writes, answering 403 itself when the caller is not a member.
func (s *Server) requireMember(w http.ResponseWriter, r *http.Request, roomID int64) bool {
	caller := callerIdentity(r)

	member, err := s.storage.IsRoomMember(r.Context(), caller.UserID, roomID)
	if err != nil {
		s.logger.Error("membership check failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		s.sendError(w, "Failed to check membership", http.StatusInternalServerError)
		return false
	}
	if !member {
		s.sendError(w, "Not a member of this room", http.StatusForbidden)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", slog.Any("error", err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	s.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
