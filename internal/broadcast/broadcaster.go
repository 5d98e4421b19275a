package broadcast

import (
	"context"
	"fmt"
	"log"

	"majlis/internal/presence"
	"majlis/internal/registry"
	"majlis/pkg/interfaces"
	"majlis/pkg/types"
)

// Broadcaster accepts, persists and fans out one message at a time for a
// given room. Persist-then-fan-out: the gateway assigns the durable ID and
// timestamp before any recipient sees the message, so a failed send never
// appears to have sent.
type Broadcaster struct {
	registry *registry.Registry
	presence *presence.Coordinator
	gateway  interfaces.Gateway
}

// NewBroadcaster creates a broadcaster over the given registry, presence
// coordinator and persistence gateway.
func NewBroadcaster(reg *registry.Registry, pres *presence.Coordinator, gateway interfaces.Gateway) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		presence: pres,
		gateway:  gateway,
	}
}

// SendMessage validates, persists and delivers a message from the given
// sender session to its current room. Returns the persisted message.
//
// Validation happens before any gateway call, so an empty or oversized
// payload costs no I/O. All members of the room at the post-persist
// snapshot receive the message, including the sender: the client renders
// its own messages from the broadcast, which keeps one code path and means
// a rendered message is always a persisted one.
func (b *Broadcaster) SendMessage(ctx context.Context, senderSessionID, content, messageType string) (*types.Message, error) {
	sender, ok := b.presence.Lookup(senderSessionID)
	if !ok {
		return nil, types.ErrUnknownSession
	}

	roomID, joined := b.registry.RoomOf(senderSessionID)
	if !joined {
		return nil, types.ErrNotInRoom
	}

	trimmed, err := types.ValidateContent(content)
	if err != nil {
		return nil, err
	}
	if messageType == "" {
		messageType = types.MessageTypeText
	}
	if !types.IsValidMessageType(messageType) {
		return nil, types.ErrInvalidMessageType
	}

	// The single await point. A timeout or storage fault fails the call
	// loudly; nothing has been delivered yet.
	msg, err := b.gateway.AppendMessage(ctx, roomID, sender.UserID, sender.Username, trimmed, messageType)
	if err != nil {
		return nil, fmt.Errorf("%w: append message to room %s: %v", types.ErrPersistence, roomID, err)
	}

	b.fanOut(roomID, msg)
	return msg, nil
}

// fanOut delivers a persisted message to the room's current membership
// snapshot. Delivery is best-effort per recipient: a full outbound queue
// drops the event for that session only, and the drop is recoverable
// through history replay on its next join. Members who joined or left
// between persist time and this snapshot are not a correctness concern for
// the same reason.
func (b *Broadcaster) fanOut(roomID string, msg *types.Message) {
	event := types.NewMessageEvent(msg)

	members := b.registry.MembersOf(roomID)
	delivered := 0
	for _, sessionID := range members {
		deliverer, ok := b.presence.Deliverer(sessionID)
		if !ok {
			// Disconnected between snapshot and delivery.
			continue
		}
		deliverer.Deliver(event)
		delivered++
	}

	log.Printf("Message fanned out: id=%d room=%s sender=%s recipients=%d", msg.ID, roomID, msg.SenderID, delivered)
}
