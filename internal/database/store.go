package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// SQLite driver, referenced only through the connection string.
	_ "github.com/mattn/go-sqlite3"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// Config tunes the SQLite connection pool.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store implements interfaces.Storage over SQLite. Writes are funneled
// through a single writer goroutine, since SQLite allows one writer at a
// time and serializing in-process avoids busy-timeout churn. Reads run
// concurrently on the pool.
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// writeOperation is one queued write and its completion channel.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens the database, applies pragmas and the schema, and starts
// the writer goroutine.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	store := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logger,
	}

	store.wg.Add(1)
	go store.writeLoop()

	return store, nil
}

// writeLoop processes all write operations in a single goroutine,
// retrying each failed write exactly once.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				s.logger.Warn("database write failed, retrying", slog.Any("error", err))
				time.Sleep(250 * time.Millisecond)
				err = op.operation(s.db)
				if err != nil {
					s.logger.Error("database write failed after retry", slog.Any("error", err))
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-s.shutdown:
			return fmt.Errorf("store is shutting down")
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// IsRoomMember answers the durable membership query behind join/send
// authorization.
func (s *Store) IsRoomMember(ctx context.Context, userID string, roomID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query room membership: %w", err)
	}
	return n > 0, nil
}

// AddMessage persists a message and returns its storage-assigned id and
// timestamp.
func (s *Store) AddMessage(ctx context.Context, roomID int64, senderID, content string, sentiment types.Sentiment) (int64, time.Time, error) {
	sentAt := time.Now().UTC()
	var messageID int64

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (room_id, sender_id, content, sentiment_score, sentiment_label, sent_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			roomID, senderID, content, sentiment.Score, sentiment.Label, sentAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		messageID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	return messageID, sentAt, nil
}

// RecentMessagesWithReadStatus returns one page of room history with the
// requesting user's read state, oldest first within the page. The newest
// messages come first page-wise; rows are reversed so clients render in
// chronological order.
func (s *Store) RecentMessagesWithReadStatus(ctx context.Context, roomID int64, userID string, page, pageSize int) ([]types.MessageWithReadStatus, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.room_id, m.sender_id, COALESCE(u.user_name, ''), m.content,
		        m.sentiment_score, m.sentiment_label, m.sent_at,
		        CASE WHEN rr.user_id IS NULL THEN 0 ELSE 1 END
		 FROM messages m
		 LEFT JOIN read_receipts rr ON rr.message_id = m.id AND rr.user_id = ?
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = ?
		 ORDER BY m.sent_at DESC, m.id DESC
		 LIMIT ? OFFSET ?`,
		userID, roomID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.MessageWithReadStatus
	for rows.Next() {
		var m types.Message
		var isRead int
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content,
			&m.SentimentScore, &m.SentimentLabel, &m.SentAt, &isRead); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		results = append(results, types.MessageWithReadStatus{Message: m, IsRead: isRead == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}

	return results, nil
}

// MarkMessageRead records a read receipt; duplicate receipts are ignored.
func (s *Store) MarkMessageRead(ctx context.Context, messageID int64, userID string) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO read_receipts (message_id, user_id, read_at) VALUES (?, ?, ?)`,
			messageID, userID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert read receipt: %w", err)
		}
		return nil
	})
}

// MarkAllRead records receipts for every message in the room the user did
// not send themselves.
func (s *Store) MarkAllRead(ctx context.Context, roomID int64, userID string) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO read_receipts (message_id, user_id, read_at)
			 SELECT id, ?, ? FROM messages WHERE room_id = ? AND sender_id != ?`,
			userID, time.Now().UTC(), roomID, userID)
		if err != nil {
			return fmt.Errorf("failed to mark room read: %w", err)
		}
		return nil
	})
}

// ResolveMessageRoom maps a message id to its room.
func (s *Store) ResolveMessageRoom(ctx context.Context, messageID int64) (int64, error) {
	var roomID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id FROM messages WHERE id = ?`, messageID).Scan(&roomID)
	if err == sql.ErrNoRows {
		return 0, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve message room: %w", err)
	}
	return roomID, nil
}

// ListRoomsForUser returns the rooms the user is a durable member of,
// newest first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.created_by, r.created_at
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = ?
		 ORDER BY r.created_at DESC, r.id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	return rooms, nil
}

// UpdateLastActive records user activity at connect time.
func (s *Store) UpdateLastActive(ctx context.Context, userID string, at time.Time) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, last_active_at) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at`,
			userID, at.UTC())
		if err != nil {
			return fmt.Errorf("failed to update last-active: %w", err)
		}
		return nil
	})
}

// EnsureUser upserts the user's identity record so display names resolve
// in history queries.
func (s *Store) EnsureUser(ctx context.Context, identity types.Identity) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, user_name, full_name) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			     user_name = CASE WHEN excluded.user_name != '' THEN excluded.user_name ELSE users.user_name END,
			     full_name = CASE WHEN excluded.full_name != '' THEN excluded.full_name ELSE users.full_name END`,
			identity.UserID, identity.UserName, identity.FullName)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// CreateRoom inserts a room and adds its creator as the first member.
func (s *Store) CreateRoom(ctx context.Context, name, createdBy string) (*types.Room, error) {
	room := &types.Room{Name: name, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	if err := room.Validate(); err != nil {
		return nil, err
	}

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (name, created_by, created_at) VALUES (?, ?, ?)`,
			room.Name, room.CreatedBy, room.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		room.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read room id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`,
			room.ID, room.CreatedBy); err != nil {
			return fmt.Errorf("failed to add creator membership: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return room, nil
}

// GetRoom fetches one room record.
func (s *Store) GetRoom(ctx context.Context, roomID int64) (*types.Room, error) {
	var room types.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM rooms WHERE id = ?`, roomID).
		Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &room, nil
}

// AddRoomMember records durable membership; adding an existing member is
// a no-op.
func (s *Store) AddRoomMember(ctx context.Context, roomID int64, userID string) error {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return err
	}
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`,
			roomID, userID)
		if err != nil {
			return fmt.Errorf("failed to add room member: %w", err)
		}
		return nil
	})
}

// RemoveRoomMember revokes durable membership. Join and send re-check
// membership per operation, so revocation takes effect on the user's
// next room operation.
func (s *Store) RemoveRoomMember(ctx context.Context, roomID int64, userID string) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`,
			roomID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove room member: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and basic read access.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
