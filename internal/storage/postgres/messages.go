package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// ErrConversationExists is returned when creating a conversation whose ID is taken.
var ErrConversationExists = errors.New("conversation already exists")

// MessageRepository persists room and conversation messages.
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a MessageRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// AddChatMessage inserts a room message.
//
// Precondition: msg.RoomID, msg.UserID and msg.Content must be non-empty.
// Postcondition: Returns the stored message with ID and CreatedAt set.
func (r *MessageRepository) AddChatMessage(ctx context.Context, msg chat.NewChatMessage) (chat.ChatMessage, error) {
	var m chat.ChatMessage
	err := r.db.QueryRow(ctx,
		`INSERT INTO chat_messages (room_id, user_id, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, room_id, user_id, content, created_at`,
		msg.RoomID, msg.UserID, msg.Content,
	).Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt)
	if err != nil {
		return chat.ChatMessage{}, fmt.Errorf("inserting chat message: %w", err)
	}
	return m, nil
}

// RecentChatMessages returns up to limit of the newest messages in roomID,
// oldest first.
func (r *MessageRepository) RecentChatMessages(ctx context.Context, roomID string, limit int) ([]chat.ChatMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, room_id, user_id, content, created_at FROM (
			SELECT id, room_id, user_id, content, created_at
			FROM chat_messages WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at, id`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var out []chat.ChatMessage
	for rows.Next() {
		var m chat.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return out, nil
}

// CreateConversation opens a conversation between two users. An empty id lets
// the database generate one.
//
// Postcondition: Returns the conversation, or ErrConversationExists.
func (r *MessageRepository) CreateConversation(ctx context.Context, id, user1, user2 string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := r.db.QueryRow(ctx,
		`INSERT INTO private_conversations (id, user1_id, user2_id)
		 VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::varchar), $2, $3)
		 RETURNING id, user1_id, user2_id, last_message_at`,
		id, user1, user2,
	).Scan(&conv.ID, &conv.User1ID, &conv.User2ID, &conv.LastMessageAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return chat.Conversation{}, ErrConversationExists
		}
		return chat.Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
//
// Postcondition: Returns the Conversation or chat.ErrConversationNotFound.
func (r *MessageRepository) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := r.db.QueryRow(ctx,
		`SELECT id, user1_id, user2_id, last_message_at FROM private_conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.User1ID, &conv.User2ID, &conv.LastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Conversation{}, chat.ErrConversationNotFound
		}
		return chat.Conversation{}, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// AddPrivateMessage inserts a conversation message and advances the
// conversation's last_message_at in one transaction.
//
// Precondition: msg.Content must be non-empty.
// Postcondition: Returns the stored message, or chat.ErrConversationNotFound when
// the conversation is missing or msg.SenderID and msg.RecipientID are not its two
// participants.
func (r *MessageRepository) AddPrivateMessage(ctx context.Context, msg chat.NewPrivateMessage) (chat.PrivateMessage, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return chat.PrivateMessage{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var conv chat.Conversation
	err = tx.QueryRow(ctx,
		`SELECT id, user1_id, user2_id FROM private_conversations WHERE id = $1 FOR UPDATE`,
		msg.ConversationID,
	).Scan(&conv.ID, &conv.User1ID, &conv.User2ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.PrivateMessage{}, chat.ErrConversationNotFound
		}
		return chat.PrivateMessage{}, fmt.Errorf("locking conversation: %w", err)
	}
	if !conv.Accepts(msg.SenderID, msg.RecipientID) {
		return chat.PrivateMessage{}, chat.ErrConversationNotFound
	}

	var m chat.PrivateMessage
	err = tx.QueryRow(ctx,
		`INSERT INTO private_messages (conversation_id, sender_id, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, conversation_id, sender_id, content, is_read, created_at`,
		msg.ConversationID, msg.SenderID, msg.Content,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return chat.PrivateMessage{}, fmt.Errorf("inserting private message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE private_conversations SET last_message_at = $1 WHERE id = $2`,
		m.CreatedAt, m.ConversationID,
	); err != nil {
		return chat.PrivateMessage{}, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.PrivateMessage{}, fmt.Errorf("committing private message: %w", err)
	}
	m.RecipientID = msg.RecipientID
	return m, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
