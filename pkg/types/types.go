package types

import (
	"time"
)

// Message type constants form a closed set; anything else is rejected
// before persistence.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// Outbound event names, matched by the web client.
const (
	EventHistory        = "history"
	EventMessage        = "message"
	EventOnlineUsers    = "onlineUsers"
	EventUserJoinedRoom = "userJoinedRoom"
	EventUserLeftRoom   = "userLeftRoom"
	EventSystem         = "system"
)

// Session represents one live transport connection from an authenticated
// user. The session record is owned by the presence coordinator; the
// current room is tracked in the room registry, never here, so the two
// cannot drift apart.
type Session struct {
	ID          string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Message is a chat message. ID and CreatedAt are assigned by the
// persistence gateway; a message is immutable once persisted.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Type       string    `json:"messageType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserSummary is the user-facing identity carried in presence events.
type UserSummary struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Room is a catalog entry. The core trusts the catalog for existence
// checks; it does not manage room lifecycle beyond creation.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is the single outbound envelope delivered to transport sessions.
// Exactly one payload field is populated, selected by Type.
type Event struct {
	Type      string        `json:"type"`
	RoomID    string        `json:"roomId,omitempty"`
	Message   *Message      `json:"message,omitempty"`
	Messages  []*Message    `json:"messages,omitempty"`
	Users     []UserSummary `json:"users,omitempty"`
	User      *UserSummary  `json:"user,omitempty"`
	Info      string        `json:"info,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewHistoryEvent wraps a replayed history window for the joining session.
// Messages are ordered oldest first; an empty window is still delivered so
// the client can close its loading state.
func NewHistoryEvent(roomID string, messages []*Message) *Event {
	return &Event{
		Type:      EventHistory,
		RoomID:    roomID,
		Messages:  messages,
		Timestamp: time.Now(),
	}
}

// NewMessageEvent wraps a live message for room fan-out.
func NewMessageEvent(msg *Message) *Event {
	return &Event{
		Type:      EventMessage,
		RoomID:    msg.RoomID,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

// NewOnlineUsersEvent carries the full occupant snapshot of a room.
// Full snapshots, not diffs: a dropped event can never leave a client
// holding a stale list.
func NewOnlineUsersEvent(roomID string, users []UserSummary) *Event {
	return &Event{
		Type:      EventOnlineUsers,
		RoomID:    roomID,
		Users:     users,
		Timestamp: time.Now(),
	}
}

// NewUserJoinedEvent announces a user joining a room.
func NewUserJoinedEvent(roomID string, user UserSummary) *Event {
	return &Event{
		Type:      EventUserJoinedRoom,
		RoomID:    roomID,
		User:      &user,
		Timestamp: time.Now(),
	}
}

// NewUserLeftEvent announces a user leaving a room.
func NewUserLeftEvent(roomID string, user UserSummary) *Event {
	return &Event{
		Type:      EventUserLeftRoom,
		RoomID:    roomID,
		User:      &user,
		Timestamp: time.Now(),
	}
}

// NewSystemEvent carries operational feedback to a single session, such as
// a rejected send.
func NewSystemEvent(info string) *Event {
	return &Event{
		Type:      EventSystem,
		Info:      info,
		Timestamp: time.Now(),
	}
}
