// Package pgstore is the Postgres-backed store. Schema changes ship as
// embedded goose migrations applied by Open.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects, migrates to the latest schema and returns the store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies pending migrations through a database/sql handle that
// shares the pool's connections.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) AppendInteraction(ctx context.Context, in store.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interactions (id, user_id, interaction_type, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.UserID, in.Type, in.Content, in.Metadata, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (s *Store) RecentInteractions(ctx context.Context, userID string, limit int) ([]store.Interaction, error) {
	if limit <= 0 || limit > store.MaxRecent {
		limit = store.MaxRecent
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, interaction_type, content, metadata, created_at
		   FROM interactions
		  WHERE user_id = $1
		  ORDER BY created_at DESC, seq DESC
		  LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	out := make([]store.Interaction, 0, limit)
	for rows.Next() {
		var in store.Interaction
		if err := rows.Scan(&in.ID, &in.UserID, &in.Type, &in.Content, &in.Metadata, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.CreatedAt = in.CreatedAt.UTC()
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

func (s *Store) CountInteractions(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM interactions WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev store.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, event_type, data, created_at) VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.Type, ev.Data, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
