package relay

import (
	"context"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// Gateway is the persistence collaborator consumed by the router.
// Implementations live in internal/storage.
type Gateway interface {
	// GetUser returns chat.ErrUserNotFound when id is unknown.
	GetUser(ctx context.Context, id string) (chat.User, error)
	// GetStoreItemByID returns chat.ErrStoreItemNotFound when id is unknown.
	GetStoreItemByID(ctx context.Context, id string) (chat.StoreItem, error)
	// IsBlocked reports whether a has blocked b or b has blocked a.
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	// AddChatMessage persists a room message and returns it with ID and CreatedAt set.
	AddChatMessage(ctx context.Context, msg chat.NewChatMessage) (chat.ChatMessage, error)
	// AddPrivateMessage persists a conversation message and returns it with ID and
	// CreatedAt set. It returns chat.ErrConversationNotFound unless the sender and
	// recipient are the conversation's two participants.
	AddPrivateMessage(ctx context.Context, msg chat.NewPrivateMessage) (chat.PrivateMessage, error)
}
