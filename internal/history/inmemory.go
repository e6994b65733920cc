package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps turns in process; used when no database is configured
// and in tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
	// maxPerUser caps retained turns per user (0 = unbounded).
	maxPerUser int
}

func NewInMemoryStore(maxPerUser int) *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn), maxPerUser: maxPerUser}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, userID, text string, role Role) error {
	if err := validateRole(role); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.turns[userID], Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if s.maxPerUser > 0 && len(arr) > s.maxPerUser {
		arr = append([]Turn(nil), arr[len(arr)-s.maxPerUser:]...)
	}
	s.turns[userID] = arr
	return nil
}

func (s *InMemoryStore) FetchRecentTurns(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
