// Package relay coordinates room membership, the shared buffer, and message
// fan-out for the relay engine via the Registry type.
package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRoomFull indicates the target room already holds the configured maximum
// number of members.
var ErrRoomFull = errors.New("room at capacity")

// room is a named, ephemeral group of connections sharing one text buffer.
// Rooms are created lazily on first join and deleted eagerly when the last
// member leaves, so an identifier never accumulates stale state.
type room struct {
	id        string
	createdAt time.Time

	mu      sync.RWMutex
	members map[*Client]struct{}
	buffer  string
}

// Registry owns the mapping from room identifier to room state. It is the
// sole mutator of room membership sets. The registry lock guards the room
// map and membership mutation; each room's own lock guards its buffer and
// member set for readers, so broadcasts in different rooms never contend.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds c to the identified room, creating the room with an empty buffer
// if it does not exist yet. It returns the room's current buffer and the
// member count after the join so the caller can run the initial sync and the
// presence update. The capacity check and membership add happen under the
// registry lock, so two racing joins cannot both squeeze into the last slot.
func (reg *Registry) Join(roomID string, c *Client, maxMembers int) (string, int, error) {
	if roomID == "" {
		return "", 0, ErrInvalidRoomID
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, exists := reg.rooms[roomID]
	if !exists {
		r = &room{
			id:        roomID,
			createdAt: time.Now(),
			members:   make(map[*Client]struct{}),
		}
		reg.rooms[roomID] = r
		slog.Debug("room created", "room", r.id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= maxMembers {
		if len(r.members) == 0 {
			// Freshly created room that cannot admit anyone; do not leak it.
			delete(reg.rooms, roomID)
		}
		return "", 0, ErrRoomFull
	}

	r.members[c] = struct{}{}
	return r.buffer, len(r.members), nil
}

// Leave removes c from the identified room. It is idempotent: a missing room
// or membership is a no-op. When the last member leaves, the room is deleted
// entirely so the next join under that identifier starts fresh.
func (reg *Registry) Leave(roomID string, c *Client) (int, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, exists := reg.rooms[roomID]
	if !exists {
		return 0, false
	}

	r.mu.Lock()
	_, member := r.members[c]
	if member {
		delete(r.members, c)
	}
	remaining := len(r.members)
	r.mu.Unlock()

	if remaining == 0 {
		delete(reg.rooms, roomID)
		slog.Debug("room removed", "room", roomID)
	}
	return remaining, member
}

// SetBuffer replaces the room's buffer wholesale with content. No diffing,
// no merging; last write wins. A missing room is a no-op.
func (reg *Registry) SetBuffer(roomID, content string) {
	reg.mu.RLock()
	r, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return
	}

	r.mu.Lock()
	r.buffer = content
	r.mu.Unlock()
}

// Buffer returns the room's current buffer and whether the room exists.
func (reg *Registry) Buffer(roomID string) (string, bool) {
	reg.mu.RLock()
	r, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffer, true
}

// Broadcast delivers payload to every member of the room except exclude
// (pass nil to reach everyone). Fan-out iterates a snapshot of the member
// set and never blocks: members that are not in a ready state or whose send
// buffer is full are skipped, counted, and logged. A delivery failure never
// aborts the remaining sends and never removes the recipient from the room;
// removal happens only through the recipient's own close path.
func (reg *Registry) Broadcast(roomID string, exclude *Client, payload []byte) (delivered, failed int) {
	reg.mu.RLock()
	r, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return 0, 0
	}

	r.mu.RLock()
	members := make([]*Client, 0, len(r.members))
	for c := range r.members {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		if c == exclude {
			continue
		}
		if c.trySend(payload) {
			delivered++
		} else {
			failed++
		}
	}

	if failed > 0 {
		slog.Warn("dropped broadcast deliveries", "room", roomID, "failed", failed, "delivered", delivered)
	}
	return delivered, failed
}

// PresenceCount returns the room's current member count, 0 if the room is
// absent.
func (reg *Registry) PresenceCount(roomID string) int {
	reg.mu.RLock()
	r, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Stats returns aggregate room and member counts for observability.
func (reg *Registry) Stats() (rooms, members int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rooms = len(reg.rooms)
	for _, r := range reg.rooms {
		r.mu.RLock()
		members += len(r.members)
		r.mu.RUnlock()
	}
	return rooms, members
}
