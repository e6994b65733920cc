// Package identity resolves how the assistant should address a user.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("identity: user not found")

// Placeholder is used whenever a display name cannot be resolved.
const Placeholder = "friend"

type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Resolve returns the user's display name, or Placeholder when the lookup
// fails or yields nothing.
func Resolve(ctx context.Context, dir Directory, userID string) (string, error) {
	if dir == nil || strings.TrimSpace(userID) == "" {
		return Placeholder, nil
	}
	name, err := dir.DisplayName(ctx, userID)
	if err != nil {
		return Placeholder, err
	}
	if name = strings.TrimSpace(name); name == "" {
		return Placeholder, nil
	}
	return name, nil
}

// StaticDirectory serves names from memory.
type StaticDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewStaticDirectory(names map[string]string) *StaticDirectory {
	d := &StaticDirectory{names: make(map[string]string, len(names))}
	for k, v := range names {
		d.names[k] = v
	}
	return d
}

func (d *StaticDirectory) Set(userID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[userID] = name
}

func (d *StaticDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[userID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

// PostgresDirectory reads user_profiles.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx, `SELECT display_name FROM user_profiles WHERE user_id=$1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// SetDisplayName upserts a profile row.
func (d *PostgresDirectory) SetDisplayName(ctx context.Context, userID, name string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, display_name, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = now()`,
		userID, name)
	return err
}
