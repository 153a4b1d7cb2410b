package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL. Records are stored as JSONB
// so operators can query them directly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connURL and creates the table if needed.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mission_kv (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*models.AgentProgressRecord, error) {
	key := Key(token)
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM mission_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return decodeRecord(key, value)
}

func (s *PostgresStore) Put(ctx context.Context, token string, rec *models.AgentProgressRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mission_kv (key, value, updated_at) VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		Key(token), string(data))
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", Key(token), err)
	}
	return nil
}

func (s *PostgresStore) ListByPrefix(ctx context.Context, prefix string) ([]models.AgentProgressRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM mission_kv WHERE left(key, length($1)) = $1 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []models.AgentProgressRecord
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		rec, err := decodeRecord(key, value)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable record")
			continue
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mission_kv WHERE key = $1`, Key(token))
	if err != nil {
		return fmt.Errorf("postgres delete %s: %w", Key(token), err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent", Key: token}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
