// Package history stores the conversation turns used as model context.
package history

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one stored utterance.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves conversation turns. FetchRecentTurns returns
// at most limit turns in chronological order.
type Store interface {
	FetchRecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
	AppendTurn(ctx context.Context, userID, text string, role Role) error
	Close() error
}

func validateRole(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid turn role %q", role)
	}
	return nil
}
