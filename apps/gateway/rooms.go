package main

// roomRegistry tracks which connections belong to which conversation rooms.
// It is owned by the hub's dispatch goroutine and must never be touched from
// anywhere else; that ownership is what makes it safe without a lock.
type roomRegistry struct {
	rooms map[string]map[*Client]bool
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]map[*Client]bool)}
}

// join adds the connection to the room, creating the room entry on first
// member. Joining a room twice is a no-op.
func (r *roomRegistry) join(c *Client, roomID string) {
	members := r.rooms[roomID]
	if members == nil {
		members = make(map[*Client]bool)
		r.rooms[roomID] = members
	}
	members[c] = true
}

// leave removes the connection; an emptied room is garbage-collected.
func (r *roomRegistry) leave(c *Client, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *roomRegistry) isMember(c *Client, roomID string) bool {
	return r.rooms[roomID][c]
}

// members returns the room's live member set. Callers may iterate but must
// not retain the map across dispatch cycles.
func (r *roomRegistry) members(roomID string) map[*Client]bool {
	return r.rooms[roomID]
}

func (r *roomRegistry) exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}
