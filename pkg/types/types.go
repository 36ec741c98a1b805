package types

import (
	"time"
)

// Sentiment label constants defined exactly as the scoring collaborator
// reports them, so stored and broadcast values stay client-compatible.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Sentiment is the annotation attached to every message before it is
// persisted and broadcast. Score is kept as a decimal string to preserve
// the collaborator's exact formatting: positive labels carry a score in
// [0,1], negative labels in [-1,0], neutral is exactly "0".
type Sentiment struct {
	Score string `json:"score"`
	Label string `json:"label"`
}

// NeutralSentiment is the fail-open fallback used whenever the scoring
// collaborator is unavailable or the text is empty.
func NeutralSentiment() Sentiment {
	return Sentiment{Score: "0", Label: SentimentNeutral}
}

// Identity is the verified user identity attached to a connection at
// connect time. Connections without a resolvable identity are never
// registered.
type Identity struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Room is a persisted chat room owned by the storage collaborator.
// The core references rooms by integer id only and never mutates them.
type Room struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is a persisted chat message. IDs are storage-assigned and
// strictly increasing within a room, which client UIs rely on for
// stable ordering.
type Message struct {
	ID             int64     `json:"id"`
	RoomID         int64     `json:"room_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	SentimentScore string    `json:"sentiment_score"`
	SentimentLabel string    `json:"sentiment_label"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageWithReadStatus pairs a message with the requesting user's read
// state, used when replaying recent history to a joining connection.
type MessageWithReadStatus struct {
	Message Message `json:"message"`
	IsRead  bool    `json:"is_read"`
}
