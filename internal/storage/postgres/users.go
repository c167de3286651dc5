package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// ProfileRepository reads the user and store item rows used to enrich messages.
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a ProfileRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetUser retrieves a user by ID.
//
// Postcondition: Returns the User or chat.ErrUserNotFound.
func (r *ProfileRepository) GetUser(ctx context.Context, id string) (chat.User, error) {
	var (
		u      chat.User
		avatar *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, username, active_avatar_id FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.User{}, chat.ErrUserNotFound
		}
		return chat.User{}, fmt.Errorf("querying user: %w", err)
	}
	if avatar != nil {
		u.ActiveAvatarID = *avatar
	}
	return u, nil
}

// UpsertUser inserts a user or updates its username and avatar.
//
// Precondition: u.ID and u.Username must be non-empty.
func (r *ProfileRepository) UpsertUser(ctx context.Context, u chat.User) error {
	var avatar *string
	if u.ActiveAvatarID != "" {
		avatar = &u.ActiveAvatarID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, username, active_avatar_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET username = EXCLUDED.username, active_avatar_id = EXCLUDED.active_avatar_id`,
		u.ID, u.Username, avatar,
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetStoreItemByID retrieves a store item by ID.
//
// Postcondition: Returns the StoreItem or chat.ErrStoreItemNotFound.
func (r *ProfileRepository) GetStoreItemByID(ctx context.Context, id string) (chat.StoreItem, error) {
	var item chat.StoreItem
	err := r.db.QueryRow(ctx,
		`SELECT id, name, image_url, item_type FROM store_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.Name, &item.ImageURL, &item.ItemType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.StoreItem{}, chat.ErrStoreItemNotFound
		}
		return chat.StoreItem{}, fmt.Errorf("querying store item: %w", err)
	}
	return item, nil
}

// UpsertStoreItem inserts a store item or updates its display fields.
//
// Precondition: item.ID must be non-empty.
func (r *ProfileRepository) UpsertStoreItem(ctx context.Context, item chat.StoreItem) error {
	itemType := item.ItemType
	if itemType == "" {
		itemType = "avatar"
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO store_items (id, name, image_url, item_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, image_url = EXCLUDED.image_url, item_type = EXCLUDED.item_type`,
		item.ID, item.Name, item.ImageURL, itemType,
	)
	if err != nil {
		return fmt.Errorf("upserting store item: %w", err)
	}
	return nil
}
