package relay

import (
	"go.uber.org/zap"
)

// Join moves an authenticated connection into roomID. When the connection is in
// another room it leaves that room first, emitting user_left there. The other
// members of roomID receive user_joined and the joiner receives room_joined.
// Joining the room the connection is already in only repeats the acknowledgment.
//
// Precondition: roomID must be non-empty.
// Postcondition: c is a member of roomID only, or ErrAuthRequired / ErrNotRegistered
// is returned and membership is unchanged.
func (h *Hub) Join(c *Conn, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return ErrNotRegistered
	}
	userID, username, ok := c.Identity()
	if !ok {
		return ErrAuthRequired
	}

	current := c.Room()
	if current == roomID {
		h.sendLocked(c, roomJoined(roomID))
		return nil
	}
	if current != "" {
		h.leaveLocked(c, current)
	}

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[roomID] = members
	}
	members[c.id] = c
	c.setRoom(roomID)

	h.toRoomLocked(roomID, userJoined(userID, username), c)
	h.sendLocked(c, roomJoined(roomID))

	h.logger.Debug("joined room",
		zap.String("conn_id", c.id),
		zap.String("user_id", userID),
		zap.String("room_id", roomID),
		zap.String("previous_room_id", current),
		zap.Int("members", len(members)),
	)
	return nil
}

// Leave removes c from roomID and emits user_left to the remaining members. An
// emptied room is dropped from the index.
//
// Postcondition: c is not a member of roomID. No-op when it was not a member.
func (h *Hub) Leave(c *Conn, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, roomID)
}

func (h *Hub) leaveLocked(c *Conn, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := members[c.id]; !ok {
		return
	}

	delete(members, c.id)
	if c.Room() == roomID {
		c.setRoom("")
	}
	if len(members) == 0 {
		delete(h.rooms, roomID)
		return
	}

	userID, username, _ := c.Identity()
	h.toRoomLocked(roomID, userLeft(userID, username), nil)
}

// MembersOf returns the connections currently in roomID.
//
// Postcondition: Returns a fresh slice, empty when the room has no live entry.
func (h *Hub) MembersOf(roomID string) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return snapshot(h.rooms[roomID])
}
