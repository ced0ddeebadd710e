package hub

import "sort"

type membership struct {
	room        string
	participant string
}

// Registry is the authoritative mapping of rooms to member connection IDs
// and of connection IDs to their single current room. It holds connection
// IDs only, never the connections themselves.
//
// A Registry is not safe for concurrent use. The Hub owns one and mutates it
// exclusively from its event loop.
type Registry struct {
	rooms map[string]map[string]struct{}
	conns map[string]membership
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]membership),
	}
}

// Join adds connID to roomID as participantID. If connID is in another room
// it is moved out of it first, and that room's ID is returned as prev.
// Joining the room the connection is already in changes nothing and reports
// changed=false. The Hub vacates the old room with Leave before calling Join
// so that the old room is notified before the new one.
func (r *Registry) Join(connID, roomID, participantID string) (prev string, changed bool) {
	if m, ok := r.conns[connID]; ok {
		if m.room == roomID {
			return "", false
		}
		prev, _, _ = r.Leave(connID)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	r.conns[connID] = membership{room: roomID, participant: participantID}

	return prev, true
}

// Leave removes connID from its room, deleting the room once it is empty.
// ok is false if connID was not in any room.
func (r *Registry) Leave(connID string) (roomID, participantID string, ok bool) {
	m, ok := r.conns[connID]
	if !ok {
		return "", "", false
	}
	delete(r.conns, connID)

	if members, exists := r.rooms[m.room]; exists {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, m.room)
		}
	}
	return m.room, m.participant, true
}

// MembersOf returns the connection IDs in roomID, sorted. An unknown room
// yields an empty slice.
func (r *Registry) MembersOf(roomID string) []string {
	members := r.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RoomOf returns the room connID is in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	m, ok := r.conns[connID]
	return m.room, ok
}

// ParticipantOf returns the participant identity connID joined with.
func (r *Registry) ParticipantOf(connID string) (string, bool) {
	m, ok := r.conns[connID]
	return m.participant, ok
}

// Count returns the number of members in roomID.
func (r *Registry) Count(roomID string) int {
	return len(r.rooms[roomID])
}

// Rooms returns the IDs of all non-empty rooms, sorted.
func (r *Registry) Rooms() []string {
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NumRooms returns the number of non-empty rooms.
func (r *Registry) NumRooms() int {
	return len(r.rooms)
}
