package relay

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers wrap one of these in a FrameError so the router can answer
// the offending connection with an error frame.
var (
	// ErrProtocol marks a malformed or out-of-sequence frame.
	ErrProtocol = errors.New("protocol error")
	// ErrAuthRequired marks an action attempted before identity is bound.
	ErrAuthRequired = errors.New("not authenticated")
	// ErrAlreadyAuthenticated marks a second auth frame on a bound connection.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrNotInRoom marks a room-scoped action without room membership.
	ErrNotInRoom = errors.New("not in a room")
	// ErrModeration marks a private message between a blocked pair.
	ErrModeration = errors.New("blocked by moderation")
	// ErrPersistence marks a failed or timed out gateway call.
	ErrPersistence = errors.New("persistence failure")
	// ErrRateLimited marks a frame dropped by the per-connection limiter.
	ErrRateLimited = errors.New("rate limited")
)

// Hub and Conn errors.
var (
	ErrHubClosed     = errors.New("hub is shut down")
	ErrNotRegistered = errors.New("connection not registered")
	ErrConnClosed    = errors.New("connection closed")
	ErrBufferFull    = errors.New("send buffer full")
)

// Client-facing error frame texts.
const (
	msgNotAuthenticated     = "not authenticated"
	msgAlreadyAuthenticated = "already authenticated"
	msgInvalidAuth          = "invalid auth data"
	msgNotInRoom            = "not in a room"
	msgInvalidRoom          = "invalid room id"
	msgInvalidPrivate       = "invalid private message"
	msgConversationNotFound = "conversation not found"
	msgBlocked              = "cannot message this user"
	msgSendFailed           = "failed to send message"
	msgMalformed            = "malformed frame"
	msgRateLimited          = "rate limit exceeded"
)

// FrameError is a handler failure that is reported to the sender as an error frame.
type FrameError struct {
	// Kind is one of the package error kinds.
	Kind error
	// Message is the text sent to the client.
	Message string
	// Err is the underlying cause, if any. It is logged, never sent.
	Err error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *FrameError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func frameErr(kind error, message string) *FrameError {
	return &FrameError{Kind: kind, Message: message}
}

func persistenceErr(err error) *FrameError {
	return &FrameError{Kind: ErrPersistence, Message: msgSendFailed, Err: err}
}
