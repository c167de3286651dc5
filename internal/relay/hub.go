// Package relay implements the realtime messaging core: connection registry,
// room membership, fan-out and the frame router.
package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Hub owns the process-wide relay state: every registered connection, the identity
// index used for fan-out by user, and the room membership index.
// All methods are safe for concurrent use. Membership changes and the fan-out they
// trigger run under one lock, so frames reach a room in processing order.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*Conn            // conn id → conn
	byUser map[string]map[string]*Conn // user id → conn id → conn
	rooms  map[string]map[string]*Conn // room id → conn id → conn
	closed bool

	logger *zap.Logger
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		logger: logger,
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown closes every live connection's outbound queue and rejects further
// registrations. Transports observe the closed queue and close their sockets.
//
// Postcondition: The hub holds no connections or rooms. Idempotent.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	n := len(h.conns)
	for _, c := range h.conns {
		c.close()
	}
	h.conns = make(map[string]*Conn)
	h.byUser = make(map[string]map[string]*Conn)
	h.rooms = make(map[string]map[string]*Conn)

	h.logger.Info("relay hub shut down", zap.Int("closed_connections", n))
}
