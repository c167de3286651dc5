// Package chat defines the persisted messaging entities shared by the relay and
// its storage backends.
package chat

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user lookup yields no results.
var ErrUserNotFound = errors.New("user not found")

// ErrStoreItemNotFound is returned when a store item lookup yields no results.
var ErrStoreItemNotFound = errors.New("store item not found")

// ErrConversationNotFound is returned when a conversation does not exist or the
// sender is not one of its two participants.
var ErrConversationNotFound = errors.New("conversation not found")

// User is the slice of a user account the relay needs for enrichment.
type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	// ActiveAvatarID references a StoreItem; empty when no avatar is equipped.
	ActiveAvatarID string `yaml:"active_avatar_id"`
}

// StoreItem is a purchasable item; avatars resolve to its ImageURL.
type StoreItem struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ImageURL string `yaml:"image_url"`
	ItemType string `yaml:"item_type"`
}

// Block records that BlockerID has blocked BlockedID.
type Block struct {
	BlockerID string    `yaml:"blocker_id"`
	BlockedID string    `yaml:"blocked_id"`
	CreatedAt time.Time `yaml:"-"`
}

// Conversation is a durable two-party private channel.
type Conversation struct {
	ID            string    `yaml:"id"`
	User1ID       string    `yaml:"user1_id"`
	User2ID       string    `yaml:"user2_id"`
	LastMessageAt time.Time `yaml:"-"`
}

// HasParticipant reports whether userID is one of the conversation's two users.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// Counterpart returns the participant other than userID, or "" when userID is not
// a participant.
func (c Conversation) Counterpart(userID string) string {
	switch {
	case userID == "":
		return ""
	case c.User1ID == userID:
		return c.User2ID
	case c.User2ID == userID:
		return c.User1ID
	default:
		return ""
	}
}

// Accepts reports whether a message from senderID addressed to recipientID belongs
// in this conversation.
func (c Conversation) Accepts(senderID, recipientID string) bool {
	return recipientID != "" && c.Counterpart(senderID) == recipientID
}

// ChatMessage is a persisted room message.
type ChatMessage struct {
	ID        string
	RoomID    string
	UserID    string
	Content   string
	CreatedAt time.Time
}

// PrivateMessage is a persisted conversation message.
type PrivateMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	// RecipientID is the conversation's other participant. It is not stored.
	RecipientID    string
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

// NewChatMessage is the insert shape for a room message.
type NewChatMessage struct {
	RoomID  string
	UserID  string
	Content string
}

// NewPrivateMessage is the insert shape for a conversation message.
type NewPrivateMessage struct {
	ConversationID string
	SenderID       string
	// RecipientID must be the conversation's participant other than SenderID.
	RecipientID    string
	Content        string
}
