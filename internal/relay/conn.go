package relay

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the outbound queue size used when none is configured.
const DefaultSendBuffer = 64

// Conn is one live transport connection as seen by the relay. Outbound frames are
// queued on a bounded channel that the transport's write pump drains.
//
// Identity and room fields are written by the Hub while it holds its own lock.
type Conn struct {
	id         string
	remoteAddr string
	out        chan []byte

	mu            sync.Mutex
	closed        bool
	authenticated bool
	userID        string
	username      string
	roomID        string
}

// NewConn creates an unauthenticated connection with a fresh ID.
//
// Precondition: remoteAddr is informational and may be empty.
// Postcondition: Returns a Conn with an open outbound queue of bufferSize
// (DefaultSendBuffer when bufferSize <= 0).
func NewConn(remoteAddr string, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Conn{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		out:        make(chan []byte, bufferSize),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address supplied at creation.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Outbound returns the read side of the outbound queue. It is closed when the
// connection is unregistered or the hub shuts down.
func (c *Conn) Outbound() <-chan []byte { return c.out }

// Identity returns the bound user ID and display name.
//
// Postcondition: ok is false while the connection is unauthenticated.
func (c *Conn) Identity() (userID, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username, c.authenticated
}

// Room returns the current room ID, or "" when the connection is in no room.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// IsClosed reports whether the outbound queue has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push enqueues data without blocking.
//
// Postcondition: Returns ErrConnClosed after close, ErrBufferFull when the queue is full.
func (c *Conn) push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// close closes the outbound queue. Idempotent.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *Conn) bind(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
	c.authenticated = true
}

func (c *Conn) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}
