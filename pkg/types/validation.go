package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Compiled once at package initialization; identifiers are validated on
// every inbound frame.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxContentLength caps message content in runes. Matches the limit
// enforced by the web client's composer.
const MaxContentLength = 2000

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return identifierRegex.MatchString(userID)
}

// IsValidRoomID checks if a room ID meets format requirements.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 50 {
		return false
	}
	return identifierRegex.MatchString(roomID)
}

// IsValidUsername checks display-name length. Usernames are free-form
// (Arabic display names are the common case) so only length is enforced.
func IsValidUsername(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= 1 && n <= 50
}

// IsValidMessageType checks if the message type is one of the allowed types.
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeText, MessageTypeImage, MessageTypeSystem:
		return true
	default:
		return false
	}
}

// ValidateContent trims and checks message content before any persistence
// attempt. Returns the trimmed content on success.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrInvalidContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLarge
	}
	return trimmed, nil
}
