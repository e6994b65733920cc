package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultFetchLimit = 10

// PostgresStore reads and writes the conversation_turns table. The schema is
// owned by the migrations package.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID, text string, role Role) error {
	if err := validateRole(role); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, user_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(),
		userID,
		string(role),
		text,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchRecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, content, created_at
		 FROM conversation_turns WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close is a no-op: the pool is shared and closed by its owner.
func (s *PostgresStore) Close() error { return nil }
