package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomhub/pkg/types"
)

// Connection implements interfaces.Connection over a gorilla websocket.
// All writes go through a single writer goroutine: websocket writes must
// be serialized, and broadcast paths write from many goroutines. The
// identity is verified before the wrapper is constructed and is
// immutable for the connection's lifetime.
type Connection struct {
	id        string
	identity  types.Identity
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	writeTimeout time.Duration
}

// NewConnection wraps an upgraded websocket with a server-assigned id and
// a verified identity, and starts the writer goroutine.
func NewConnection(conn *websocket.Conn, id string, identity types.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		identity:     identity,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent queues an event frame for delivery. Fails once the
// connection is closed or when the write buffer stays full past the
// write timeout, which callers treat as a vanished connection.
func (c *Connection) WriteEvent(event types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer goroutine and closes the underlying socket.
// Safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserID() string {
	return c.identity.UserID
}

func (c *Connection) UserName() string {
	return c.identity.UserName
}
