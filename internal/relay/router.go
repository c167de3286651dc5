package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// DefaultGatewayTimeout bounds each persistence call when no timeout is configured.
const DefaultGatewayTimeout = 5 * time.Second

// Router is the per-connection protocol state machine:
//
//	Connected --auth--> Authenticated --join_room R--> InRoom(R)
//	InRoom(R) --join_room R'--> InRoom(R')    (implicit leave of R)
//	InRoom(R) --leave_room--> Authenticated
//
// Frames of one connection must be handled sequentially; frames of different
// connections may be handled concurrently. Gateway calls are made without holding
// the hub lock.
type Router struct {
	hub     *Hub
	gateway Gateway
	gate    *ModerationGate
	timeout time.Duration
	logger  *zap.Logger
}

// NewRouter creates a Router.
//
// Precondition: hub, gateway, and logger must be non-nil.
// Postcondition: gatewayTimeout <= 0 selects DefaultGatewayTimeout.
func NewRouter(hub *Hub, gateway Gateway, gatewayTimeout time.Duration, logger *zap.Logger) *Router {
	if gatewayTimeout <= 0 {
		gatewayTimeout = DefaultGatewayTimeout
	}
	return &Router{
		hub:     hub,
		gateway: gateway,
		gate:    NewModerationGate(gateway),
		timeout: gatewayTimeout,
		logger:  logger,
	}
}

// HandleRaw decodes one transport message and handles it. Undecodable payloads are
// answered with an error frame; the connection stays open.
func (r *Router) HandleRaw(ctx context.Context, c *Conn, data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		r.reply(c, &FrameError{Kind: ErrProtocol, Message: msgMalformed, Err: err})
		return
	}
	r.Handle(ctx, c, f)
}

// Handle processes one decoded frame to completion.
//
// Postcondition: Any rejection is reported to c alone as an error frame.
func (r *Router) Handle(ctx context.Context, c *Conn, f Frame) {
	if err := r.dispatch(ctx, c, f); err != nil {
		var fe *FrameError
		if !errors.As(err, &fe) {
			fe = &FrameError{Kind: ErrProtocol, Message: msgSendFailed, Err: err}
		}
		r.reply(c, fe)
	}
}

// RateLimited tells c that a frame was dropped by its limiter.
func (r *Router) RateLimited(c *Conn) {
	r.reply(c, frameErr(ErrRateLimited, msgRateLimited))
}

func (r *Router) dispatch(ctx context.Context, c *Conn, f Frame) error {
	switch f := f.(type) {
	case AuthFrame:
		return r.handleAuth(c, f)
	case JoinRoomFrame:
		return r.handleJoinRoom(c, f)
	case LeaveRoomFrame:
		return r.handleLeaveRoom(c, f)
	case ChatMessageFrame:
		return r.handleChatMessage(ctx, c, f)
	case PrivateMessageFrame:
		return r.handlePrivateMessage(ctx, c, f)
	case TypingFrame:
		return r.handleTyping(ctx, c, f)
	case UnknownFrame:
		r.logger.Debug("ignoring unknown frame type",
			zap.String("conn_id", c.ID()),
			zap.String("type", f.Type),
		)
		return nil
	default:
		return nil
	}
}

func (r *Router) handleAuth(c *Conn, f AuthFrame) error {
	if strings.TrimSpace(f.UserID) == "" || strings.TrimSpace(f.Username) == "" {
		return frameErr(ErrProtocol, msgInvalidAuth)
	}

	err := r.hub.Authenticate(c, f.UserID, f.Username)
	switch {
	case errors.Is(err, ErrAlreadyAuthenticated):
		return frameErr(ErrAlreadyAuthenticated, msgAlreadyAuthenticated)
	case err != nil:
		return &FrameError{Kind: ErrAuthRequired, Message: msgNotAuthenticated, Err: err}
	}

	r.logger.Info("connection authenticated",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", f.UserID),
		zap.String("username", f.Username),
	)
	if err := r.hub.Send(c, authSuccess()); err != nil {
		r.logger.Debug("auth ack not delivered", zap.String("conn_id", c.ID()), zap.Error(err))
	}
	return nil
}

func (r *Router) handleJoinRoom(c *Conn, f JoinRoomFrame) error {
	if _, _, ok := c.Identity(); !ok {
		return frameErr(ErrAuthRequired, msgNotAuthenticated)
	}
	if strings.TrimSpace(f.RoomID) == "" {
		return frameErr(ErrProtocol, msgInvalidRoom)
	}
	err := r.hub.Join(c, f.RoomID)
	switch {
	case errors.Is(err, ErrNotRegistered):
		// Lost a race with Unregister or Shutdown; the queue is already closed.
		r.logger.Debug("join after unregister", zap.String("conn_id", c.ID()), zap.String("room_id", f.RoomID))
		return nil
	case err != nil:
		return &FrameError{Kind: ErrAuthRequired, Message: msgNotAuthenticated, Err: err}
	}
	return nil
}

func (r *Router) handleLeaveRoom(c *Conn, f LeaveRoomFrame) error {
	if _, _, ok := c.Identity(); !ok {
		return frameErr(ErrAuthRequired, msgNotAuthenticated)
	}
	roomID := f.RoomID
	if roomID == "" {
		roomID = c.Room()
	}
	r.hub.Leave(c, roomID)
	return nil
}

func (r *Router) handleChatMessage(ctx context.Context, c *Conn, f ChatMessageFrame) error {
	userID, username, ok := c.Identity()
	roomID := c.Room()
	if !ok || roomID == "" {
		return frameErr(ErrNotInRoom, msgNotInRoom)
	}

	content := strings.TrimSpace(f.Content)
	if content == "" {
		return nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	msg, err := r.gateway.AddChatMessage(gctx, chat.NewChatMessage{
		RoomID:  roomID,
		UserID:  userID,
		Content: content,
	})
	cancel()
	if err != nil {
		return persistenceErr(err)
	}

	avatar := r.resolveAvatar(ctx, userID)
	if err := r.hub.ToRoom(roomID, chatMessageEvent(msg, username, avatar), nil); err != nil {
		return persistenceErr(err)
	}
	return nil
}

func (r *Router) handlePrivateMessage(ctx context.Context, c *Conn, f PrivateMessageFrame) error {
	userID, username, ok := c.Identity()
	if !ok {
		return frameErr(ErrAuthRequired, msgNotAuthenticated)
	}

	content := strings.TrimSpace(f.Content)
	if content == "" {
		return nil
	}
	if f.ConversationID == "" || f.RecipientID == "" {
		return frameErr(ErrProtocol, msgInvalidPrivate)
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	blocked, err := r.gate.IsBlocked(gctx, userID, f.RecipientID)
	cancel()
	if err != nil {
		return persistenceErr(err)
	}
	if blocked {
		r.logger.Info("private message blocked",
			zap.String("sender_id", userID),
			zap.String("recipient_id", f.RecipientID),
		)
		return frameErr(ErrModeration, msgBlocked)
	}

	gctx, cancel = context.WithTimeout(ctx, r.timeout)
	msg, err := r.gateway.AddPrivateMessage(gctx, chat.NewPrivateMessage{
		ConversationID: f.ConversationID,
		SenderID:       userID,
		RecipientID:    f.RecipientID,
		Content:        content,
	})
	cancel()
	if errors.Is(err, chat.ErrConversationNotFound) {
		return &FrameError{Kind: ErrProtocol, Message: msgConversationNotFound, Err: err}
	}
	if err != nil {
		return persistenceErr(err)
	}

	evt := privateMessageEvent(msg, username, r.resolveAvatar(ctx, userID))
	if err := r.hub.Send(c, evt); err != nil {
		r.logger.Debug("echoing private message to sender", zap.String("conn_id", c.ID()), zap.Error(err))
	}
	if err := r.hub.ToIdentity(msg.RecipientID, evt, c); err != nil {
		return persistenceErr(err)
	}
	return nil
}

func (r *Router) handleTyping(ctx context.Context, c *Conn, f TypingFrame) error {
	userID, username, ok := c.Identity()
	if !ok {
		return nil
	}

	switch {
	case f.RoomID != "" && c.Room() == f.RoomID:
		return r.hub.ToRoom(f.RoomID, TypingEvent{Type: TypeTyping, UserID: userID, Username: username}, c)

	case f.ConversationID != "" && f.RecipientID != "":
		gctx, cancel := context.WithTimeout(ctx, r.timeout)
		blocked, err := r.gate.IsBlocked(gctx, userID, f.RecipientID)
		cancel()
		if err != nil {
			r.logger.Warn("typing block check failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		if blocked {
			return nil
		}
		return r.hub.ToIdentity(f.RecipientID, TypingEvent{
			Type:           TypeTyping,
			UserID:         userID,
			Username:       username,
			ConversationID: f.ConversationID,
		}, c)
	}
	return nil
}

// resolveAvatar maps the user's active avatar to its image URL. Lookup failures
// degrade to no avatar: the message is already persisted and is still delivered.
func (r *Router) resolveAvatar(ctx context.Context, userID string) *string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user, err := r.gateway.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, chat.ErrUserNotFound) {
			r.logger.Warn("resolving sender for avatar", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	if user.ActiveAvatarID == "" {
		return nil
	}

	item, err := r.gateway.GetStoreItemByID(ctx, user.ActiveAvatarID)
	if err != nil {
		if !errors.Is(err, chat.ErrStoreItemNotFound) {
			r.logger.Warn("resolving avatar item",
				zap.String("user_id", userID),
				zap.String("item_id", user.ActiveAvatarID),
				zap.Error(err),
			)
		}
		return nil
	}
	if item.ImageURL == "" {
		return nil
	}
	url := item.ImageURL
	return &url
}

// reply sends fe to c as an error frame.
func (r *Router) reply(c *Conn, fe *FrameError) {
	level := zap.DebugLevel
	if errors.Is(fe, ErrPersistence) {
		level = zap.WarnLevel
	}
	r.logger.Check(level, "frame rejected").Write(
		zap.String("conn_id", c.ID()),
		zap.String("reply", fe.Message),
		zap.Error(fe),
	)
	if err := r.hub.Send(c, errorEvent(fe.Message)); err != nil {
		r.logger.Debug("reply not delivered", zap.String("conn_id", c.ID()), zap.Error(err))
	}
}
