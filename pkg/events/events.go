package events

import (
	"sync"
)

// Member is one live WebSocket connection inside a Room. Send is
// buffered so a slow peer cannot stall the broadcaster; a full buffer
// causes that member's copy of the message to be skipped.
type Member struct {
	ConnID string
	Send   chan []byte
}

// memberBuffer bounds how many un-flushed outbound messages a single
// connection may accumulate before new broadcasts start dropping for it.
const memberBuffer = 64

// Room fans outbound messages out to every member of one tenant,
// optionally excluding the member that originated the change.
type Room struct {
	mu      sync.RWMutex
	members map[string]*Member
}

func newRoom() *Room {
	return &Room{members: make(map[string]*Member)}
}

// Join registers connID as a member and returns its outbound channel.
func (r *Room) Join(connID string) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &Member{ConnID: connID, Send: make(chan []byte, memberBuffer)}
	r.members[connID] = m
	return m
}

// Leave removes connID and closes its outbound channel.
func (r *Room) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[connID]; ok {
		delete(r.members, connID)
		close(m.Send)
	}
}

// BroadcastExcept delivers payload to every member except excludeConnID.
func (r *Room) BroadcastExcept(excludeConnID string, payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID, m := range r.members {
		if connID == excludeConnID {
			continue
		}
		select {
		case m.Send <- payload:
		default:
			// member buffer full, skip this broadcast for it
		}
	}
}

// BroadcastAll delivers payload to every member of the room.
func (r *Room) BroadcastAll(payload []byte) {
	r.BroadcastExcept("", payload)
}

// Size returns the number of connected members.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// RoomRegistry holds one Room per tenant, created lazily on first join.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*Room)}
}

func (rr *RoomRegistry) roomFor(tenantID string) *Room {
	rr.mu.RLock()
	room, ok := rr.rooms[tenantID]
	rr.mu.RUnlock()
	if ok {
		return room
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	if room, ok := rr.rooms[tenantID]; ok {
		return room
	}
	room = newRoom()
	rr.rooms[tenantID] = room
	return room
}

// Join adds connID to tenantID's room, creating the room if needed.
func (rr *RoomRegistry) Join(tenantID, connID string) *Member {
	return rr.roomFor(tenantID).Join(connID)
}

// Leave removes connID from tenantID's room.
func (rr *RoomRegistry) Leave(tenantID, connID string) {
	rr.mu.RLock()
	room, ok := rr.rooms[tenantID]
	rr.mu.RUnlock()
	if ok {
		room.Leave(connID)
	}
}

// BroadcastExcept delivers payload to tenantID's room, skipping excludeConnID.
// A no-op if the tenant has no room yet (no connected peers).
func (rr *RoomRegistry) BroadcastExcept(tenantID, excludeConnID string, payload []byte) {
	rr.mu.RLock()
	room, ok := rr.rooms[tenantID]
	rr.mu.RUnlock()
	if ok {
		room.BroadcastExcept(excludeConnID, payload)
	}
}

// BroadcastAll delivers payload to every member of tenantID's room.
func (rr *RoomRegistry) BroadcastAll(tenantID string, payload []byte) {
	rr.BroadcastExcept(tenantID, "", payload)
}

// RoomSize returns the member count of tenantID's room, or 0 if none exists.
func (rr *RoomRegistry) RoomSize(tenantID string) int {
	rr.mu.RLock()
	room, ok := rr.rooms[tenantID]
	rr.mu.RUnlock()
	if !ok {
		return 0
	}
	return room.Size()
}
