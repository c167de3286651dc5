package relay

import (
	"go.uber.org/zap"
)

// Register admits a new, unauthenticated connection.
//
// Precondition: c must be non-nil.
// Postcondition: c is tracked by the hub, or ErrHubClosed is returned after Shutdown.
func (h *Hub) Register(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.conns[c.id] = c
	h.logger.Debug("connection registered",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", c.remoteAddr),
		zap.Int("connections", len(h.conns)),
	)
	return nil
}

// Authenticate binds an identity to a registered connection. The first bind wins:
// a second call returns ErrAlreadyAuthenticated and keeps the original identity.
//
// Precondition: userID and username must be non-empty.
// Postcondition: c is returned by FindByIdentity(userID), or an error is returned
// (ErrNotRegistered, ErrAlreadyAuthenticated).
func (h *Hub) Authenticate(c *Conn, userID, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return ErrNotRegistered
	}
	if _, _, ok := c.Identity(); ok {
		return ErrAlreadyAuthenticated
	}

	c.bind(userID, username)
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[string]*Conn)
		h.byUser[userID] = set
	}
	set[c.id] = c
	return nil
}

// Unregister removes a connection, first running the room leave path so peers see
// user_left. The connection's outbound queue is closed.
//
// Postcondition: c is no longer tracked. No-op for an unknown connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}

	if roomID := c.Room(); roomID != "" {
		h.leaveLocked(c, roomID)
	}
	if userID, _, ok := c.Identity(); ok {
		if set, ok := h.byUser[userID]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(h.byUser, userID)
			}
		}
	}
	delete(h.conns, c.id)
	c.close()

	h.logger.Debug("connection unregistered",
		zap.String("conn_id", c.id),
		zap.Int("connections", len(h.conns)),
		zap.Int("rooms", len(h.rooms)),
	)
}

// FindByIdentity returns every connection authenticated as userID.
//
// Postcondition: Returns a fresh slice (may be empty).
func (h *Hub) FindByIdentity(userID string) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return snapshot(h.byUser[userID])
}

func snapshot(set map[string]*Conn) []*Conn {
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
