package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"majlis/internal/history"
	"majlis/internal/registry"
	"majlis/pkg/interfaces"
	"majlis/pkg/types"
)

// mirrorTimeout bounds the background writes that keep the persisted
// membership mirror in step with live presence.
const mirrorTimeout = 5 * time.Second

// member couples a session record with its transport deliverer for the
// session's lifetime.
type member struct {
	session   *types.Session
	deliverer interfaces.Deliverer
}

// Coordinator orchestrates the join/leave protocol. It owns the session
// table and is the only component allowed to call registry mutators, which
// keeps registry state and session state moving in lockstep.
//
// State machine per session: Unjoined -> Joined(room) on JoinRoom;
// Joined(a) -> Joined(b) on JoinRoom(b); any state -> Terminal on
// Disconnect. Same-room rejoin re-runs the bootstrapper but fires no
// presence notification.
type Coordinator struct {
	mu       sync.RWMutex
	members  map[string]*member // sessionID -> member
	registry *registry.Registry
	boot     *history.Bootstrapper
	gateway  interfaces.Gateway
}

// NewCoordinator creates a coordinator around the given registry,
// bootstrapper and persistence gateway.
func NewCoordinator(reg *registry.Registry, boot *history.Bootstrapper, gateway interfaces.Gateway) *Coordinator {
	return &Coordinator{
		members:  make(map[string]*member),
		registry: reg,
		boot:     boot,
		gateway:  gateway,
	}
}

// Connect admits an authenticated transport session in state Unjoined.
// The transport adapter calls this exactly once per connection, after
// authentication and before the read loop starts.
func (c *Coordinator) Connect(session *types.Session, deliverer interfaces.Deliverer) error {
	if session == nil || session.ID == "" {
		return ErrNilSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.members[session.ID]; ok {
		// A stale record under the same session ID means the transport
		// reused an identifier; drop the old deliverer so it cannot
		// receive events meant for the new connection.
		go func() {
			if err := existing.deliverer.Close(); err != nil {
				log.Printf("Failed to close replaced session %s: %v", session.ID, err)
			}
		}()
	}

	c.members[session.ID] = &member{session: session, deliverer: deliverer}
	log.Printf("Session connected: session=%s user=%s", session.ID, session.UserID)
	return nil
}

// JoinRoom moves a session into roomID per the presence state machine.
// History replay runs to completion before registration, so the joining
// session can never receive a live broadcast ahead of its history event.
// On any error the registry and the session are left in their prior state.
func (c *Coordinator) JoinRoom(ctx context.Context, sessionID, roomID string, cursor int64) error {
	c.mu.RLock()
	m, ok := c.members[sessionID]
	c.mu.RUnlock()
	if !ok {
		return types.ErrUnknownSession
	}

	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}

	current, _ := c.registry.RoomOf(sessionID)
	rejoin := current == roomID

	// One await point: the bootstrapper's gateway fetch. Everything after
	// it is in-memory.
	if err := c.boot.Bootstrap(ctx, m.deliverer, roomID, cursor); err != nil {
		return err
	}

	if rejoin {
		// Idempotent rejoin: history was re-synced above, but presence
		// did not change, so no notification fires.
		log.Printf("Session re-synced room: session=%s room=%s", sessionID, roomID)
		return nil
	}

	prevRoom := c.registry.Register(roomID, sessionID)

	user := types.UserSummary{UserID: m.session.UserID, Username: m.session.Username}

	if prevRoom != "" {
		c.notifyLeave(prevRoom, user)
		c.notifyRoomOnlineUsers(prevRoom)
		c.mirrorRemove(prevRoom, user.UserID)
	}

	c.notifyJoin(roomID, user, sessionID)
	c.notifyRoomOnlineUsers(roomID)
	c.mirrorSave(roomID, user)

	log.Printf("Session joined room: session=%s user=%s room=%s prev=%q", sessionID, user.UserID, roomID, prevRoom)
	return nil
}

// Disconnect removes the session and notifies the room it vacated, if any.
// Idempotent: disconnecting an unknown session is treated as already left,
// never an error.
func (c *Coordinator) Disconnect(sessionID string) {
	c.mu.Lock()
	m, ok := c.members[sessionID]
	if ok {
		delete(c.members, sessionID)
	}
	c.mu.Unlock()

	roomID, wasJoined := c.registry.Unregister(sessionID)
	if !ok {
		return
	}

	if wasJoined {
		user := types.UserSummary{UserID: m.session.UserID, Username: m.session.Username}
		c.notifyLeave(roomID, user)
		c.notifyRoomOnlineUsers(roomID)
		c.mirrorRemove(roomID, user.UserID)
	}

	log.Printf("Session disconnected: session=%s user=%s room=%q", sessionID, m.session.UserID, roomID)
}

// Lookup returns the session record for a live session.
func (c *Coordinator) Lookup(sessionID string) (*types.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[sessionID]
	if !ok {
		return nil, false
	}
	return m.session, true
}

// Deliverer returns the outbound channel for a live session. Fan-out
// callers resolve recipients through this after snapshotting MembersOf.
func (c *Coordinator) Deliverer(sessionID string) (interfaces.Deliverer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[sessionID]
	if !ok {
		return nil, false
	}
	return m.deliverer, true
}

// RoomUsers translates a room's current occupancy into user-facing
// identities, ordered deterministically for stable payloads.
func (c *Coordinator) RoomUsers(roomID string) []types.UserSummary {
	sessionIDs := c.registry.MembersOf(roomID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	users := lo.FilterMap(sessionIDs, func(sessionID string, _ int) (types.UserSummary, bool) {
		m, ok := c.members[sessionID]
		if !ok {
			return types.UserSummary{}, false
		}
		return types.UserSummary{UserID: m.session.UserID, Username: m.session.Username}, true
	})

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// SessionCount reports the number of live sessions for the API layer.
func (c *Coordinator) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// notifyJoin announces a join to the room's other members. The joining
// session is excluded: it learns its own membership from the onlineUsers
// snapshot that follows.
func (c *Coordinator) notifyJoin(roomID string, user types.UserSummary, joinedSessionID string) {
	event := types.NewUserJoinedEvent(roomID, user)
	for _, sessionID := range c.registry.MembersOf(roomID) {
		if sessionID == joinedSessionID {
			continue
		}
		if deliverer, ok := c.Deliverer(sessionID); ok {
			deliverer.Deliver(event)
		}
	}
}

// notifyLeave announces a leave to the room's remaining members. The
// registry mutation has already completed, so the leaver is not in the set.
func (c *Coordinator) notifyLeave(roomID string, user types.UserSummary) {
	c.deliverToRoom(roomID, types.NewUserLeftEvent(roomID, user))
}

// notifyRoomOnlineUsers sends the full occupant snapshot to every current
// member of the room, computed from the registry state after the mutation
// that triggered it.
func (c *Coordinator) notifyRoomOnlineUsers(roomID string) {
	c.deliverToRoom(roomID, types.NewOnlineUsersEvent(roomID, c.RoomUsers(roomID)))
}

// deliverToRoom fans an event out to the room's current membership,
// best-effort per recipient.
func (c *Coordinator) deliverToRoom(roomID string, event *types.Event) {
	for _, sessionID := range c.registry.MembersOf(roomID) {
		if deliverer, ok := c.Deliverer(sessionID); ok {
			deliverer.Deliver(event)
		}
	}
}

// mirrorSave updates the persisted membership mirror in the background.
// The in-memory registry is the live source of truth; a mirror failure is
// logged and never blocks or fails the presence transition.
func (c *Coordinator) mirrorSave(roomID string, user types.UserSummary) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := c.gateway.SaveMembership(ctx, roomID, user); err != nil {
			log.Printf("Membership mirror save failed: room=%s user=%s err=%v", roomID, user.UserID, err)
		}
	}()
}

func (c *Coordinator) mirrorRemove(roomID, userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := c.gateway.RemoveMembership(ctx, roomID, userID); err != nil {
			log.Printf("Membership mirror remove failed: room=%s user=%s err=%v", roomID, userID, err)
		}
	}()
}
