package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// Frame type tags shared by inbound and outbound frames.
const (
	TypeAuth           = "auth"
	TypeAuthSuccess    = "auth_success"
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeRoomJoined     = "room_joined"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeChatMessage    = "chat_message"
	TypePrivateMessage = "private_message"
	TypeTyping         = "typing"
	TypeError          = "error"
)

// Frame is a decoded inbound frame. The set of implementations is closed; the
// router switches over them.
type Frame interface {
	frameType() string
}

// AuthFrame binds an identity to the connection.
type AuthFrame struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// JoinRoomFrame moves the connection into a room.
type JoinRoomFrame struct {
	RoomID string `json:"roomId"`
}

// LeaveRoomFrame removes the connection from a room.
type LeaveRoomFrame struct {
	RoomID string `json:"roomId"`
}

// ChatMessageFrame posts to the connection's current room.
type ChatMessageFrame struct {
	Content string `json:"content"`
}

// PrivateMessageFrame posts to a two-party conversation.
type PrivateMessageFrame struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
}

// TypingFrame signals typing in a room or a conversation.
type TypingFrame struct {
	RoomID         string `json:"roomId"`
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// UnknownFrame carries an unrecognised type tag. It is ignored.
type UnknownFrame struct {
	Type string
}

func (AuthFrame) frameType() string           { return TypeAuth }
func (JoinRoomFrame) frameType() string       { return TypeJoinRoom }
func (LeaveRoomFrame) frameType() string      { return TypeLeaveRoom }
func (ChatMessageFrame) frameType() string    { return TypeChatMessage }
func (PrivateMessageFrame) frameType() string { return TypePrivateMessage }
func (TypingFrame) frameType() string         { return TypeTyping }
func (f UnknownFrame) frameType() string      { return f.Type }

type envelope struct {
	Type string `json:"type"`
}

// DecodeFrame parses one JSON transport message into a Frame.
//
// Postcondition: Returns a Frame, or an error wrapping ErrProtocol when the payload
// is not a JSON object with a string type tag or its fields do not decode.
func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %v", ErrProtocol, err)
	}

	var f Frame
	var err error
	switch env.Type {
	case TypeAuth:
		f, err = decodeInto[AuthFrame](data)
	case TypeJoinRoom:
		f, err = decodeInto[JoinRoomFrame](data)
	case TypeLeaveRoom:
		f, err = decodeInto[LeaveRoomFrame](data)
	case TypeChatMessage:
		f, err = decodeInto[ChatMessageFrame](data)
	case TypePrivateMessage:
		f, err = decodeInto[PrivateMessageFrame](data)
	case TypeTyping:
		f, err = decodeInto[TypingFrame](data)
	default:
		return UnknownFrame{Type: env.Type}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s frame: %v", ErrProtocol, env.Type, err)
	}
	return f, nil
}

func decodeInto[T Frame](data []byte) (Frame, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Outbound frames.

// AuthSuccessEvent acknowledges an auth frame.
type AuthSuccessEvent struct {
	Type string `json:"type"`
}

// RoomJoinedEvent acknowledges a join to the joining connection.
type RoomJoinedEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// PresenceEvent is user_joined or user_left.
type PresenceEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingEvent relays a typing signal.
type TypingEvent struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ErrorEvent reports a rejected frame to its sender.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatMessageView is a persisted room message enriched with sender display info.
type ChatMessageView struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	UserID         string    `json:"userId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Username       string    `json:"username"`
	AvatarImageURL *string   `json:"avatarImageUrl"`
}

// ChatMessageEvent carries a room message.
type ChatMessageEvent struct {
	Type    string          `json:"type"`
	Message ChatMessageView `json:"message"`
}

// PrivateMessageView is a persisted conversation message enriched with sender
// display info.
type PrivateMessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Username       string    `json:"username"`
	AvatarImageURL *string   `json:"avatarImageUrl"`
}

// PrivateMessageEvent carries a conversation message.
type PrivateMessageEvent struct {
	Type    string             `json:"type"`
	Message PrivateMessageView `json:"message"`
}

func authSuccess() AuthSuccessEvent { return AuthSuccessEvent{Type: TypeAuthSuccess} }

func roomJoined(roomID string) RoomJoinedEvent {
	return RoomJoinedEvent{Type: TypeRoomJoined, RoomID: roomID}
}

func userJoined(userID, username string) PresenceEvent {
	return PresenceEvent{Type: TypeUserJoined, UserID: userID, Username: username}
}

func userLeft(userID, username string) PresenceEvent {
	return PresenceEvent{Type: TypeUserLeft, UserID: userID, Username: username}
}

func errorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

func chatMessageEvent(m chat.ChatMessage, username string, avatar *string) ChatMessageEvent {
	return ChatMessageEvent{
		Type: TypeChatMessage,
		Message: ChatMessageView{
			ID:             m.ID,
			RoomID:         m.RoomID,
			UserID:         m.UserID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			Username:       username,
			AvatarImageURL: avatar,
		},
	}
}

func privateMessageEvent(m chat.PrivateMessage, username string, avatar *string) PrivateMessageEvent {
	return PrivateMessageEvent{
		Type: TypePrivateMessage,
		Message: PrivateMessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			Username:       username,
			AvatarImageURL: avatar,
		},
	}
}

// encode serialises an outbound frame once for fan-out.
func encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}
