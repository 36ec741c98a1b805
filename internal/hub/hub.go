package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"roomhub/internal/broadcast"
	"roomhub/internal/membership"
	"roomhub/internal/registry"
	"roomhub/internal/sentiment"
	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// Options tunes hub behavior. Zero values fall back to defaults suitable
// for a single-process deployment.
type Options struct {
	LaneBuffer        int     // queued operations per room lane
	RecentPageSize    int     // messages replayed on join
	MessagesPerSecond float64 // per-user send budget
	MessageBurst      int
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = 256
	}
	if opts.RecentPageSize <= 0 {
		opts.RecentPageSize = 50
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 10
	}
	return opts
}

// Hub is the per-connection session state machine: Connected →
// Connected+Joined{rooms} → Disconnected. Each client-initiated operation
// drives registry updates and broadcast side effects. Room-scoped
// operations are sequenced through per-room lanes so that, within one
// room, every operation completes (broadcast included) before the next
// starts. Authorization, storage, and scoring are the only suspension
// points; registry operations stay in-memory and never share a lock with
// the slow I/O paths.
type Hub struct {
	registry  *registry.Registry
	router    *broadcast.Router
	storage   interfaces.Storage
	members   *membership.Authority
	annotator *sentiment.Annotator
	limiters  *userLimiters
	lanes     *laneSet
	opts      Options
	logger    *slog.Logger

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a hub with explicit dependencies. The registry instance
// is owned by the caller and injected, never a process-global.
func NewHub(reg *registry.Registry, router *broadcast.Router, storage interfaces.Storage,
	members *membership.Authority, annotator *sentiment.Annotator, opts Options, logger *slog.Logger) *Hub {
	o := opts.withDefaults()
	return &Hub{
		registry:  reg,
		router:    router,
		storage:   storage,
		members:   members,
		annotator: annotator,
		limiters:  newUserLimiters(o.MessagesPerSecond, o.MessageBurst),
		lanes:     newLaneSet(o.LaneBuffer),
		opts:      o,
		logger:    logger,
	}
}

// Start makes the hub accept operations. Lane workers are created lazily
// per room and stop when the hub stops.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true
	h.logger.Info("hub started")
	return nil
}

// Stop cancels all room lanes and waits for their workers to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	h.lanes.wait()
	h.logger.Info("hub stopped")
	return nil
}

// Connect registers a new connection (state Connected). A duplicate id is
// fatal to the registration and rejects the connect. Last-active tracking
// is best-effort: a storage failure is logged, never fatal.
func (h *Hub) Connect(conn interfaces.Connection) error {
	ctx, err := h.runningContext()
	if err != nil {
		return err
	}

	if err := h.registry.Register(conn); err != nil {
		return err
	}

	userID := conn.UserID()
	go func() {
		touchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		identity := types.Identity{UserID: userID, UserName: conn.UserName()}
		if err := h.storage.EnsureUser(touchCtx, identity); err != nil {
			h.logger.Warn("failed to record user", slog.String("user_id", userID), slog.Any("error", err))
		}
		if err := h.storage.UpdateLastActive(touchCtx, userID, time.Now()); err != nil {
			h.logger.Warn("failed to record last-active", slog.String("user_id", userID), slog.Any("error", err))
		}
	}()

	h.logger.Info("connection registered",
		slog.String("connection_id", conn.ID()),
		slog.String("user_id", userID))
	return nil
}

// Disconnect unregisters the connection and unwinds all its group
// memberships (state Disconnected, terminal). Idempotent: a disconnect
// racing an already-cleaned-up state is a no-op. The user_left fan-out is
// advisory; absence from future group snapshots is the authoritative
// signal.
func (h *Hub) Disconnect(connectionID string) {
	ctx, err := h.runningContext()
	if err != nil {
		return
	}

	conn, ok := h.registry.Get(connectionID)
	if !ok {
		return
	}
	userID := conn.UserID()
	userName := conn.UserName()

	groups, err := h.registry.GroupsForConnection(connectionID)
	if err != nil {
		return
	}

	h.registry.Unregister(connectionID)

	if len(h.registry.ConnectionsForUser(userID)) == 0 {
		h.limiters.forget(userID)
	}

	for _, roomID := range groups {
		rid := roomID
		if err := h.lanes.dispatch(ctx, rid, func(context.Context) {
			h.router.SendToRoom(rid, types.EventUserLeft, types.UserRoomEvent{
				RoomID:   rid,
				UserID:   userID,
				UserName: userName,
			})
		}); err != nil {
			h.logger.Warn("user_left fan-out dropped",
				slog.Int64("room_id", rid), slog.Any("error", err))
		}
	}

	h.logger.Info("connection unregistered",
		slog.String("connection_id", connectionID),
		slog.String("user_id", userID))
}

// JoinRoom authorizes the caller against durable room membership, records
// the group association, confirms to the caller, replays recent history
// to the caller only, then notifies the rest of the group.
func (h *Hub) JoinRoom(connectionID string, roomID int64) error {
	return h.dispatchRoom(connectionID, roomID, func(ctx context.Context) {
		h.doJoin(ctx, connectionID, roomID)
	})
}

// LeaveRoom notifies the rest of the group before removal, so the leaving
// connection's presence during the notification is consistent with group
// history, then removes the association and confirms to the caller.
func (h *Hub) LeaveRoom(connectionID string, roomID int64) error {
	return h.dispatchRoom(connectionID, roomID, func(ctx context.Context) {
		h.doLeave(ctx, connectionID, roomID)
	})
}

// SendMessage runs authorize → annotate → persist → broadcast. The
// broadcast includes the sender's own connection: persistence
// confirmation doubles as the send acknowledgment.
func (h *Hub) SendMessage(connectionID string, roomID int64, content string) error {
	return h.dispatchRoom(connectionID, roomID, func(ctx context.Context) {
		h.doSend(ctx, connectionID, roomID, content)
	})
}

// Typing broadcasts an ephemeral typing-state change to the rest of the
// group. Nothing is persisted; failures are logged and swallowed.
func (h *Hub) Typing(connectionID string, roomID int64, starting bool) error {
	return h.dispatchRoom(connectionID, roomID, func(ctx context.Context) {
		h.doTyping(ctx, connectionID, roomID, starting)
	})
}

// MarkRead resolves the message's room, authorizes, records the receipt,
// and broadcasts the read to the group. Read receipts are advisory: an
// unresolvable message id returns silently with no error surfaced.
func (h *Hub) MarkRead(connectionID string, messageID int64) error {
	ctx, err := h.runningContext()
	if err != nil {
		return err
	}

	roomID, err := h.storage.ResolveMessageRoom(ctx, messageID)
	if errors.Is(err, interfaces.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		h.logger.Error("message room resolution failed",
			slog.Int64("message_id", messageID), slog.Any("error", err))
		h.sendError(connectionID, "message could not be resolved")
		return nil
	}

	return h.dispatchRoom(connectionID, roomID, func(ctx context.Context) {
		h.doMarkRead(ctx, connectionID, roomID, messageID)
	})
}

// Heartbeat re-asserts the connection's presence in every
// currently-recorded group, repairing transport-level membership loss
// after reconnection, and replies with the server clock.
func (h *Hub) Heartbeat(connectionID string) error {
	if _, err := h.runningContext(); err != nil {
		return err
	}

	groups, err := h.registry.GroupsForConnection(connectionID)
	if err != nil {
		h.logger.Warn("heartbeat for unknown connection",
			slog.String("connection_id", connectionID))
		return nil
	}

	for _, roomID := range groups {
		if err := h.registry.JoinGroup(connectionID, roomID); err != nil {
			// Connection vanished mid-heartbeat; nothing left to assert.
			return nil
		}
	}

	_ = h.router.SendToConnection(connectionID, types.EventHeartbeatResponse,
		types.HeartbeatResponseEvent{ServerTime: time.Now()})
	return nil
}

// ConnectionInfo reports the caller's own connection state: identity,
// rooms available to join, and currently active groups.
func (h *Hub) ConnectionInfo(connectionID string) error {
	ctx, err := h.runningContext()
	if err != nil {
		return err
	}

	conn, ok := h.registry.Get(connectionID)
	if !ok {
		return nil
	}
	userID := conn.UserID()

	rooms, err := h.storage.ListRoomsForUser(ctx, userID)
	if err != nil {
		h.logger.Error("room listing failed", slog.String("user_id", userID), slog.Any("error", err))
		h.sendError(connectionID, "available rooms could not be loaded")
		return nil
	}

	groups, err := h.registry.GroupsForConnection(connectionID)
	if err != nil {
		return nil
	}

	_ = h.router.SendToConnection(connectionID, types.EventConnectionInfo, types.ConnectionInfoEvent{
		ConnectionID:   connectionID,
		UserID:         userID,
		AvailableRooms: rooms,
		ActiveRooms:    groups,
	})
	return nil
}

// --- room-lane operation bodies ---

func (h *Hub) doJoin(ctx context.Context, connectionID string, roomID int64) {
	conn, ok := h.registry.Get(connectionID)
	if !ok {
		h.logger.Warn("join for unknown connection", slog.String("connection_id", connectionID))
		return
	}
	userID := conn.UserID()

	if err := h.members.EnsureMember(ctx, userID, roomID); err != nil {
		if errors.Is(err, interfaces.ErrNotAuthorized) {
			h.sendError(connectionID, "not authorized to join this room")
		} else {
			h.logger.Error("membership check failed",
				slog.String("user_id", userID), slog.Int64("room_id", roomID), slog.Any("error", err))
			h.sendError(connectionID, "room membership could not be verified")
		}
		return
	}

	// Fetch history before mutating registry state so a storage failure
	// aborts the join with a single error event and no side effects.
	recent, err := h.storage.RecentMessagesWithReadStatus(ctx, roomID, userID, 1, h.opts.RecentPageSize)
	if err != nil {
		h.logger.Error("history fetch failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		h.sendError(connectionID, "room history could not be loaded")
		return
	}

	if err := h.registry.JoinGroup(connectionID, roomID); err != nil {
		// Connection disconnected while the join was queued.
		h.logger.Warn("join raced with disconnect", slog.String("connection_id", connectionID))
		return
	}

	_ = h.router.SendToConnection(connectionID, types.EventJoinedRoom, types.RoomEvent{RoomID: roomID})
	_ = h.router.SendToConnection(connectionID, types.EventLoadRecentMessages, types.RecentMessagesEvent{
		RoomID:   roomID,
		Messages: recent,
		Page:     1,
		PageSize: h.opts.RecentPageSize,
	})
	h.router.SendToRoomExcept(roomID, types.EventUserJoined, types.UserRoomEvent{
		RoomID:   roomID,
		UserID:   userID,
		UserName: conn.UserName(),
	}, connectionID)
}

func (h *Hub) doLeave(ctx context.Context, connectionID string, roomID int64) {
	conn, ok := h.registry.Get(connectionID)
	if !ok {
		return
	}

	in, err := h.registry.InGroup(connectionID, roomID)
	if err != nil {
		return
	}

	if in {
		h.router.SendToRoomExcept(roomID, types.EventUserLeft, types.UserRoomEvent{
			RoomID:   roomID,
			UserID:   conn.UserID(),
			UserName: conn.UserName(),
		}, connectionID)

		if err := h.registry.LeaveGroup(connectionID, roomID); err != nil {
			return
		}
	}

	_ = h.router.SendToConnection(connectionID, types.EventLeftRoom, types.RoomEvent{RoomID: roomID})
}

func (h *Hub) doSend(ctx context.Context, connectionID string, roomID int64, content string) {
	conn, ok := h.registry.Get(connectionID)
	if !ok {
		h.logger.Warn("send for unknown connection", slog.String("connection_id", connectionID))
		return
	}
	userID := conn.UserID()

	if err := types.ValidateContent(content); err != nil {
		h.sendError(connectionID, err.Error())
		return
	}

	if err := h.members.EnsureMember(ctx, userID, roomID); err != nil {
		if errors.Is(err, interfaces.ErrNotAuthorized) {
			h.sendError(connectionID, "not authorized to send to this room")
		} else {
			h.logger.Error("membership check failed",
				slog.String("user_id", userID), slog.Int64("room_id", roomID), slog.Any("error", err))
			h.sendError(connectionID, "room membership could not be verified")
		}
		return
	}

	if !h.limiters.allow(userID) {
		h.sendError(connectionID, "message rate limit exceeded")
		return
	}

	sent := h.annotator.Annotate(ctx, content)

	messageID, sentAt, err := h.storage.AddMessage(ctx, roomID, userID, content, sent)
	if err != nil {
		// Persist-then-broadcast is mandatory: a failed persist yields a
		// single error event and no broadcast.
		h.logger.Error("message persist failed",
			slog.Int64("room_id", roomID), slog.Any("error", err))
		h.sendError(connectionID, "message could not be saved")
		return
	}

	// Auto-repair: a client may send before joining, or have lost its
	// group association across a reconnect. Join the group rather than
	// failing the send.
	if in, err := h.registry.InGroup(connectionID, roomID); err == nil && !in {
		if err := h.registry.JoinGroup(connectionID, roomID); err != nil {
			h.logger.Warn("send group repair raced with disconnect",
				slog.String("connection_id", connectionID))
		}
	}

	h.router.SendToRoom(roomID, types.EventReceiveMessage, types.Message{
		ID:             messageID,
		RoomID:         roomID,
		SenderID:       userID,
		SenderName:     conn.UserName(),
		Content:        content,
		SentimentScore: sent.Score,
		SentimentLabel: sent.Label,
		SentAt:         sentAt,
	})
}

func (h *Hub) doTyping(ctx context.Context, connectionID string, roomID int64, starting bool) {
	conn, ok := h.registry.Get(connectionID)
	if !ok {
		return
	}

	in, err := h.registry.InGroup(connectionID, roomID)
	if err != nil || !in {
		return
	}

	eventType := types.EventUserTyping
	if !starting {
		eventType = types.EventUserStoppedTyping
	}

	h.router.SendToRoomExcept(roomID, eventType, types.UserRoomEvent{
		RoomID:   roomID,
		UserID:   conn.UserID(),
		UserName: conn.UserName(),
	}, connectionID)
}

func (h *Hub) doMarkRead(ctx context.Context, connectionID string, roomID, messageID int64) {
	conn, ok := h.registry.Get(connectionID)
	if !ok {
		return
	}
	userID := conn.UserID()

	if err := h.members.EnsureMember(ctx, userID, roomID); err != nil {
		if errors.Is(err, interfaces.ErrNotAuthorized) {
			h.sendError(connectionID, "not authorized to read this room")
		} else {
			h.sendError(connectionID, "room membership could not be verified")
		}
		return
	}

	if err := h.storage.MarkMessageRead(ctx, messageID, userID); err != nil {
		h.logger.Error("read receipt persist failed",
			slog.Int64("message_id", messageID), slog.Any("error", err))
		h.sendError(connectionID, "read receipt could not be saved")
		return
	}

	h.router.SendToRoom(roomID, types.EventMessageRead, types.MessageReadEvent{
		MessageID: messageID,
		UserID:    userID,
	})
}

// --- plumbing ---

// runningContext returns the hub context if the hub accepts operations.
func (h *Hub) runningContext() (context.Context, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return nil, ErrHubNotRunning
	}
	return h.ctx, nil
}

// dispatchRoom queues a room-scoped operation on the room's lane. Every
// semantic failure inside the operation is reported to the offending
// caller as exactly one error event; dispatch failures are reported the
// same way so the caller is never left without a response.
func (h *Hub) dispatchRoom(connectionID string, roomID int64, op func(context.Context)) error {
	ctx, err := h.runningContext()
	if err != nil {
		return err
	}

	if !types.IsValidRoomID(roomID) {
		h.sendError(connectionID, types.ErrInvalidRoomID.Error())
		return nil
	}

	if err := h.lanes.dispatch(ctx, roomID, op); err != nil {
		h.logger.Warn("room lane full",
			slog.Int64("room_id", roomID), slog.String("connection_id", connectionID))
		h.sendError(connectionID, "room is busy, try again")
		return err
	}
	return nil
}

func (h *Hub) sendError(connectionID, message string) {
	_ = h.router.SendToConnection(connectionID, types.EventError, types.ErrorEvent{Message: message})
}
