package interfaces

import (
	"context"

	"majlis/pkg/types"
)

// Gateway abstracts message and membership persistence. The core treats it
// as an external collaborator: every call may block on I/O and must be
// bounded by the caller's context.
type Gateway interface {
	// AppendMessage durably stores a message and assigns its ID and
	// timestamp. IDs are monotonically increasing for a given room: the
	// implementation must use a single append path, not parallel
	// uncoordinated writers.
	AppendMessage(ctx context.Context, roomID, senderID, senderName, content, messageType string) (*types.Message, error)

	// RecentMessages returns up to limit of the newest messages for a
	// room, ordered oldest first.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error)

	// RoomMembers returns the persisted membership mirror for a room.
	// Used only for cold-start reconciliation, never for live tracking.
	RoomMembers(ctx context.Context, roomID string) ([]types.UserSummary, error)

	// SaveMembership and RemoveMembership keep the persisted mirror in
	// step with live presence transitions. Both are best-effort from the
	// coordinator's point of view.
	SaveMembership(ctx context.Context, roomID string, user types.UserSummary) error
	RemoveMembership(ctx context.Context, roomID, userID string) error

	// Room catalog. JoinRoom callers check existence here before handing
	// the room ID to the presence coordinator.
	RoomExists(ctx context.Context, roomID string) (bool, error)
	CreateRoom(ctx context.Context, room *types.Room) error
	ListRooms(ctx context.Context) ([]*types.Room, error)
}
