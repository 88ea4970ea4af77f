// Package registry tracks which room each connection belongs to. A room has
// no lifecycle of its own: it exists while at least one connection is a
// member and its entry is pruned as soon as the last member leaves.
package registry

import (
	"errors"
	"strings"
	"sync"
)

// ErrInvalidRoomName is returned when a join names an empty or blank room.
var ErrInvalidRoomName = errors.New("invalid room name")

// Registry is the authoritative room membership state. Every connection is a
// member of at most one room at a time. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{}
	roomOf map[string]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]struct{}),
		roomOf: make(map[string]string),
	}
}

// ValidRoomName reports whether name can be used as a room name.
func ValidRoomName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// Join moves connID into room, leaving its previous room first. Joining the
// room the connection is already in is a no-op. On ErrInvalidRoomName the
// connection keeps its prior room.
func (r *Registry) Join(connID, room string) error {
	if !ValidRoomName(room) {
		return ErrInvalidRoomName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.roomOf[connID]; ok {
		if current == room {
			return nil
		}
		r.removeLocked(connID, current)
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
	r.roomOf[connID] = room
	return nil
}

// Leave removes connID from whichever room it is in and returns that room.
// ok is false when the connection had no room.
func (r *Registry) Leave(connID string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok = r.roomOf[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(connID, room)
	return room, true
}

// removeLocked drops connID from room and prunes the room once empty.
// The caller must hold the write lock.
func (r *Registry) removeLocked(connID, room string) {
	delete(r.roomOf, connID)
	members := r.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf returns a snapshot of the connection ids in room. The slice is
// never nil and is safe to use after the registry changes.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomOf returns the current room of connID.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.roomOf[connID]
	return room, ok
}

// Rooms returns a snapshot of every live room and its member count.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.rooms))
	for name, members := range r.rooms {
		out[name] = len(members)
	}
	return out
}

// Stats returns the number of live rooms and the number of connections that
// are members of a room.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms), len(r.roomOf)
}
