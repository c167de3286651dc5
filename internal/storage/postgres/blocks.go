package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockRepository provides block list persistence.
type BlockRepository struct {
	db *pgxpool.Pool
}

// NewBlockRepository creates a BlockRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewBlockRepository(db *pgxpool.Pool) *BlockRepository {
	return &BlockRepository{db: db}
}

// IsBlocked reports whether a has blocked b or b has blocked a.
func (r *BlockRepository) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM blocked_users
			WHERE (user_id = $1 AND blocked_user_id = $2)
			   OR (user_id = $2 AND blocked_user_id = $1)
		)`,
		a, b,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("querying block: %w", err)
	}
	return blocked, nil
}

// Block records that blocker has blocked blocked. Idempotent.
func (r *BlockRepository) Block(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO blocked_users (user_id, blocked_user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, blocked_user_id) DO NOTHING`,
		blocker, blocked,
	)
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// Unblock removes a block. No-op when absent.
func (r *BlockRepository) Unblock(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM blocked_users WHERE user_id = $1 AND blocked_user_id = $2`,
		blocker, blocked,
	)
	if err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}
	return nil
}
