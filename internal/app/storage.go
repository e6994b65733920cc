package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jurayed/ushi-project-sub000/internal/history"
	"github.com/jurayed/ushi-project-sub000/internal/identity"
	"github.com/jurayed/ushi-project-sub000/internal/migrations"
)

type storage struct {
	history  history.Store
	identity identity.Directory
	// pool is nil for the in-memory setup.
	pool *pgxpool.Pool
}

// newStorage connects to Postgres and migrates it when databaseURL is set,
// otherwise keeps history in memory with no known display names.
func newStorage(ctx context.Context, databaseURL string, maxTurns int, logger *slog.Logger) (storage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		logger.Info("history store: in-memory", "max_turns_per_user", maxTurns)
		return storage{
			history:  history.NewInMemoryStore(maxTurns),
			identity: identity.NewStaticDirectory(nil),
		}, nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return storage{}, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Up(ctx, pool, logger); err != nil {
		pool.Close()
		return storage{}, err
	}
	logger.Info("history store: postgres")
	return storage{
		history:  history.NewPostgresStore(pool),
		identity: identity.NewPostgresDirectory(pool),
		pool:     pool,
	}, nil
}

func (s storage) ready(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s storage) close() error {
	err := s.history.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
