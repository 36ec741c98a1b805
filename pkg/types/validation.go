package types

import (
	"regexp"
)

// Regex compiled once at package initialization; user IDs are validated
// on every connect and every API call.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxContentBytes is the upper bound on message content size. Oversized
// messages are rejected before sentiment scoring or persistence.
const MaxContentBytes = 65536 // 64KB

// IsValidUserID checks if a user ID meets format requirements.
// The 1-50 character limit keeps IDs indexable and displayable.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks that a room id is a usable storage key.
func IsValidRoomID(roomID int64) bool {
	return roomID > 0
}

// ValidateContent enforces the message content size limit. Empty content
// is allowed; the sentiment step short-circuits it to neutral.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate enforces the room field limits used by the API layer.
func (r *Room) Validate() error {
	if len(r.Name) < 1 || len(r.Name) > 200 {
		return ErrInvalidRoomName
	}
	if !IsValidUserID(r.CreatedBy) {
		return ErrInvalidUserID
	}
	return nil
}
