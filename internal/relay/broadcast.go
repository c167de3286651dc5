package relay

import (
	"errors"

	"go.uber.org/zap"
)

// ToRoom delivers frame to every member of roomID except exclude (which may be nil).
// The frame is encoded once. Members whose queue is closed or full are skipped.
//
// Postcondition: Returns an error only when the frame cannot be encoded.
func (h *Hub) ToRoom(roomID string, frame any, exclude *Conn) error {
	data, err := encode(frame)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverAll(h.rooms[roomID], data, exclude)
	return nil
}

// ToIdentity delivers frame to every connection authenticated as userID except
// exclude (which may be nil).
//
// Postcondition: Returns an error only when the frame cannot be encoded.
func (h *Hub) ToIdentity(userID string, frame any, exclude *Conn) error {
	data, err := encode(frame)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverAll(h.byUser[userID], data, exclude)
	return nil
}

// Send delivers frame to a single connection.
//
// Postcondition: Returns an error when the frame cannot be encoded or the
// connection's queue is closed or full.
func (h *Hub) Send(c *Conn, frame any) error {
	data, err := encode(frame)
	if err != nil {
		return err
	}
	return c.push(data)
}

func (h *Hub) toRoomLocked(roomID string, frame any, exclude *Conn) {
	data, err := encode(frame)
	if err != nil {
		h.logger.Error("encoding room frame", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	h.deliverAll(h.rooms[roomID], data, exclude)
}

func (h *Hub) sendLocked(c *Conn, frame any) {
	if err := h.Send(c, frame); err != nil {
		h.logSkip(c, err)
	}
}

func (h *Hub) deliverAll(set map[string]*Conn, data []byte, exclude *Conn) {
	for _, c := range set {
		if c == exclude {
			continue
		}
		if err := c.push(data); err != nil {
			h.logSkip(c, err)
		}
	}
}

func (h *Hub) logSkip(c *Conn, err error) {
	if errors.Is(err, ErrConnClosed) {
		return
	}
	h.logger.Warn("dropping frame for connection",
		zap.String("conn_id", c.id),
		zap.Error(err),
	)
}
