package registry

import (
	"sync"
)

// Registry tracks which session is connected to which room. It is pure
// bookkeeping: no notifications, no persistence, no business logic. All
// writes go through the presence coordinator; reads may come from anywhere.
//
// Invariant: a session ID appears in at most one room's set at any time.
// Register enforces this atomically, so no caller can ever observe a
// transient dual membership.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]struct{} // roomID -> set of sessionIDs
	sessionRoom map[string]string              // sessionID -> roomID reverse index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]struct{}),
		sessionRoom: make(map[string]string),
	}
}

// Register adds the session to roomID's set, removing it from any previous
// room in the same critical section. Returns the previous room ID, empty if
// the session was not registered anywhere. Idempotent: re-registering to
// the same room mutates nothing and returns that room.
func (r *Registry) Register(roomID, sessionID string) (prevRoom string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevRoom = r.sessionRoom[sessionID]
	if prevRoom == roomID {
		return prevRoom
	}

	if prevRoom != "" {
		r.removeLocked(prevRoom, sessionID)
	}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][sessionID] = struct{}{}
	r.sessionRoom[sessionID] = roomID

	return prevRoom
}

// Unregister removes the session from whichever room it occupies. Returns
// the vacated room ID and true, or "" and false if the session was not
// registered. Idempotent.
func (r *Registry) Unregister(sessionID string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.sessionRoom[sessionID]
	if !ok {
		return "", false
	}

	r.removeLocked(roomID, sessionID)
	delete(r.sessionRoom, sessionID)
	return roomID, true
}

// MembersOf returns a snapshot of the session IDs currently in a room.
// The slice is a copy; callers can hold or mutate it freely.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	snapshot := make([]string, 0, len(members))
	for sessionID := range members {
		snapshot = append(snapshot, sessionID)
	}
	return snapshot
}

// RoomOf is the reverse lookup: the room a session currently occupies.
func (r *Registry) RoomOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.sessionRoom[sessionID]
	return roomID, ok
}

// Stats returns registry counters for the API layer.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"registered_sessions": len(r.sessionRoom),
		"occupied_rooms":      len(r.rooms),
	}
}

// removeLocked deletes a membership entry and prunes the room set when it
// empties, so abandoned rooms do not accumulate. Caller holds r.mu.
func (r *Registry) removeLocked(roomID, sessionID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
