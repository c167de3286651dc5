// Package memory provides an in-process persistence gateway for development and
// tests. Data is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

type blockKey struct {
	blocker string
	blocked string
}

// Store is a thread-safe in-memory gateway.
type Store struct {
	mu              sync.RWMutex
	users           map[string]chat.User
	items           map[string]chat.StoreItem
	blocks          map[blockKey]time.Time
	conversations   map[string]chat.Conversation
	chatMessages    []chat.ChatMessage
	privateMessages []chat.PrivateMessage

	now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]chat.User),
		items:         make(map[string]chat.StoreItem),
		blocks:        make(map[blockKey]time.Time),
		conversations: make(map[string]chat.Conversation),
		now:           time.Now,
	}
}

// PutUser inserts or replaces a user.
//
// Precondition: u.ID must be non-empty.
func (s *Store) PutUser(u chat.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutStoreItem inserts or replaces a store item.
//
// Precondition: item.ID must be non-empty.
func (s *Store) PutStoreItem(item chat.StoreItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// Block records that blocker has blocked blocked. Idempotent.
func (s *Store) Block(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blockKey{blocker: blocker, blocked: blocked}
	if _, ok := s.blocks[k]; !ok {
		s.blocks[k] = s.now()
	}
}

// Unblock removes a block. No-op when absent.
func (s *Store) Unblock(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{blocker: blocker, blocked: blocked})
}

// CreateConversation opens a conversation between two users and returns it.
// When id is empty a new one is generated.
func (s *Store) CreateConversation(id, user1, user2 string) chat.Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	conv := chat.Conversation{ID: id, User1ID: user1, User2ID: user2, LastMessageAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = conv
	return conv
}

// GetUser implements relay.Gateway.
func (s *Store) GetUser(_ context.Context, id string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return chat.User{}, chat.ErrUserNotFound
	}
	return u, nil
}

// GetStoreItemByID implements relay.Gateway.
func (s *Store) GetStoreItemByID(_ context.Context, id string) (chat.StoreItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return chat.StoreItem{}, chat.ErrStoreItemNotFound
	}
	return item, nil
}

// IsBlocked implements relay.Gateway.
func (s *Store) IsBlocked(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ab := s.blocks[blockKey{blocker: a, blocked: b}]
	_, ba := s.blocks[blockKey{blocker: b, blocked: a}]
	return ab || ba, nil
}

// AddChatMessage implements relay.Gateway.
func (s *Store) AddChatMessage(ctx context.Context, msg chat.NewChatMessage) (chat.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return chat.ChatMessage{}, err
	}
	m := chat.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatMessages = append(s.chatMessages, m)
	return m, nil
}

// AddPrivateMessage implements relay.Gateway. The sender and recipient must be the
// conversation's two participants; its LastMessageAt is advanced.
func (s *Store) AddPrivateMessage(ctx context.Context, msg chat.NewPrivateMessage) (chat.PrivateMessage, error) {
	if err := ctx.Err(); err != nil {
		return chat.PrivateMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok || !conv.Accepts(msg.SenderID, msg.RecipientID) {
		return chat.PrivateMessage{}, chat.ErrConversationNotFound
	}

	m := chat.PrivateMessage{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		CreatedAt:      s.now(),
	}
	conv.LastMessageAt = m.CreatedAt
	s.conversations[conv.ID] = conv
	s.privateMessages = append(s.privateMessages, m)
	return m, nil
}

// ChatMessages returns the messages persisted for roomID in insertion order.
func (s *Store) ChatMessages(roomID string) []chat.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.ChatMessage
	for _, m := range s.chatMessages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

// PrivateMessages returns the messages persisted for conversationID in insertion order.
func (s *Store) PrivateMessages(conversationID string) []chat.PrivateMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.PrivateMessage
	for _, m := range s.privateMessages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// Conversation returns the conversation with the given ID.
func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}
