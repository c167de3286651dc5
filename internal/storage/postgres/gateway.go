package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Gateway is the relay's PostgreSQL persistence gateway.
type Gateway struct {
	*ProfileRepository
	*BlockRepository
	*MessageRepository
}

// NewGateway composes the repositories over one pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGateway(db *pgxpool.Pool) *Gateway {
	return &Gateway{
		ProfileRepository: NewProfileRepository(db),
		BlockRepository:   NewBlockRepository(db),
		MessageRepository: NewMessageRepository(db),
	}
}
