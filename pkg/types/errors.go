package types

import "errors"

// Core error taxonomy. Every error crossing a component boundary wraps one
// of these sentinels so the transport layer can translate it without
// string matching.
var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrNotInRoom          = errors.New("session has not joined a room")
	ErrInvalidContent     = errors.New("message content is empty")
	ErrContentTooLarge    = errors.New("message content exceeds maximum length")
	ErrInvalidMessageType = errors.New("invalid message type: must be text, image or system")
	ErrInvalidRoomID      = errors.New("room ID must be 1-50 characters, alphanumeric + underscore/hyphen")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen")
	ErrInvalidUsername    = errors.New("username must be 1-50 characters")
	ErrRoomNotFound       = errors.New("room not found")
	ErrPersistence        = errors.New("persistence gateway failure")
)
