package relay

import (
	"context"
	"fmt"
)

// BlockChecker answers whether two identities have a block relationship in either
// direction.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// ModerationGate is consulted before private deliveries between two identities.
// Room broadcasts are not filtered.
type ModerationGate struct {
	checker BlockChecker
}

// NewModerationGate creates a gate backed by checker.
//
// Precondition: checker must be non-nil.
func NewModerationGate(checker BlockChecker) *ModerationGate {
	return &ModerationGate{checker: checker}
}

// IsBlocked reports whether a has blocked b or b has blocked a. An identity never
// blocks itself.
//
// Postcondition: Returns the checker's answer, or a wrapped checker error.
func (g *ModerationGate) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	blocked, err := g.checker.IsBlocked(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("checking block between %q and %q: %w", a, b, err)
	}
	return blocked, nil
}
