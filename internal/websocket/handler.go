package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// SessionHub is the part of the hub state machine the transport drives.
// The transport never touches the registry or router directly; it only
// invokes lifecycle hooks and client operations.
type SessionHub interface {
	Connect(conn interfaces.Connection) error
	Disconnect(connectionID string)
	JoinRoom(connectionID string, roomID int64) error
	LeaveRoom(connectionID string, roomID int64) error
	SendMessage(connectionID string, roomID int64, content string) error
	Typing(connectionID string, roomID int64, starting bool) error
	MarkRead(connectionID string, messageID int64) error
	Heartbeat(connectionID string) error
	ConnectionInfo(connectionID string) error
}

// Options tunes transport timings.
type Options struct {
	ReadTimeout  time.Duration // read deadline, refreshed on pong
	WriteTimeout time.Duration
	PingInterval time.Duration
	BufferSize   int // outbound frames buffered per connection
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is a deployment concern handled by the fronting
		// proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades websocket requests, authenticates them, and pumps
// client frames into hub transitions.
type Handler struct {
	hub      SessionHub
	verifier interfaces.IdentityVerifier
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a websocket handler with dependency injection.
func NewHandler(hub SessionHub, verifier interfaces.IdentityVerifier, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		opts:     opts,
		logger:   logger,
	}
}

// ServeWS handles GET /ws. Identity is verified before the upgrade so an
// unauthenticated caller gets a proper HTTP status; a connection without
// a resolvable identity is never registered.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.Context(), bearerCredential(r))
	if err != nil {
		http.Error(w, "Invalid or missing credential", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := NewConnection(wsConn, uuid.New().String(), *identity, h.opts.BufferSize, h.opts.WriteTimeout)

	if err := h.hub.Connect(conn); err != nil {
		h.logger.Error("connection registration failed",
			slog.String("user_id", identity.UserID), slog.Any("error", err))
		_ = conn.Close()
		return
	}

	go h.readPump(conn)
}

// bearerCredential extracts the connection credential from the
// Authorization header or, for browser websocket clients that cannot set
// headers, the token query parameter.
func bearerCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// readPump owns the connection's read side: heartbeat deadlines, frame
// decoding, and cleanup. Disconnect unwinds all registry state even when
// the pump exits through an error path.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.hub.Disconnect(conn.ID())
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{},
					time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error",
					slog.String("connection_id", conn.ID()), slog.Any("error", err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.dispatchFrame(conn, data)
	}
}

// Inbound frame shapes. Every frame carries an "op" discriminator plus
// op-specific fields.
type roomFrame struct {
	RoomID int64 `json:"room_id"`
}

type sendFrame struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

type markReadFrame struct {
	MessageID int64 `json:"message_id"`
}

// dispatchFrame decodes one client frame and drives the matching hub
// transition. The op field is peeked before the typed decode so
// malformed payloads can be answered with a single error event instead
// of closing the connection.
func (h *Handler) dispatchFrame(conn *Connection, data []byte) {
	op := gjson.GetBytes(data, "op").String()

	// decode answers a malformed payload with a single error event; the
	// connection itself stays up.
	decode := func(v any) bool {
		if err := json.Unmarshal(data, v); err != nil {
			h.writeError(conn, "malformed frame")
			return false
		}
		return true
	}

	var err error
	switch op {
	case types.OpJoinRoom:
		var f roomFrame
		if decode(&f) {
			err = h.hub.JoinRoom(conn.ID(), f.RoomID)
		}
	case types.OpLeaveRoom:
		var f roomFrame
		if decode(&f) {
			err = h.hub.LeaveRoom(conn.ID(), f.RoomID)
		}
	case types.OpSendMessage:
		var f sendFrame
		if decode(&f) {
			err = h.hub.SendMessage(conn.ID(), f.RoomID, f.Content)
		}
	case types.OpTypingStart:
		var f roomFrame
		if decode(&f) {
			err = h.hub.Typing(conn.ID(), f.RoomID, true)
		}
	case types.OpTypingStop:
		var f roomFrame
		if decode(&f) {
			err = h.hub.Typing(conn.ID(), f.RoomID, false)
		}
	case types.OpMarkRead:
		var f markReadFrame
		if decode(&f) {
			err = h.hub.MarkRead(conn.ID(), f.MessageID)
		}
	case types.OpHeartbeat:
		err = h.hub.Heartbeat(conn.ID())
	case types.OpConnectionInfo:
		err = h.hub.ConnectionInfo(conn.ID())
	default:
		h.writeError(conn, "unknown operation")
		return
	}

	if err != nil {
		// The hub has already answered the caller where an error event
		// was due; this is operator-facing visibility only.
		h.logger.Warn("operation failed",
			slog.String("op", op),
			slog.String("connection_id", conn.ID()),
			slog.Any("error", err))
	}
}

func (h *Handler) writeError(conn *Connection, message string) {
	_ = conn.WriteEvent(types.Event{
		Type:      types.EventError,
		Payload:   types.ErrorEvent{Message: message},
		Timestamp: time.Now(),
	})
}
