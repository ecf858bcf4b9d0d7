package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcliao/clip-memory/internal/model"
)

//go:embed schema.sql
var postgresSchema string

// PostgresStore implements Backend on a Postgres table with a pgvector
// column; Match runs in the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

const pgColumns = `id, user_id, content_hash, created_at, content_type, source_url, content, analysis, summary`

func (s *PostgresStore) HasHash(ctx context.Context, userID int64, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM memories WHERE user_id = $1 AND content_hash = $2)`,
		userID, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hash: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *model.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var sourceURL, vec *string
	if e.SourceURL != "" {
		sourceURL = &e.SourceURL
	}
	if len(e.Embedding) > 0 {
		lit := vectorLiteral(e.Embedding)
		vec = &lit
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO memories
		 (user_id, content_hash, created_at, content_type, source_url, content, analysis, summary, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
		 ON CONFLICT (user_id, content_hash) DO NOTHING
		 RETURNING id`,
		e.UserID, e.ContentHash, e.CreatedAt, e.ContentType, sourceURL,
		e.Content, e.Analysis, e.Summary, vec).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteOldest(ctx context.Context, userID int64, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE id IN (
			SELECT id FROM memories WHERE user_id = $1
			ORDER BY created_at ASC, id ASC LIMIT $2)`,
		userID, n)
	if err != nil {
		return 0, fmt.Errorf("evict memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) List(ctx context.Context, userID int64) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM memories WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, userID, id int64) (*model.Entry, error) {
	e, err := scanPgEntry(s.pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM memories WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &e, nil
}

// Match ranks by pgvector cosine distance. Entries whose embedding has a
// different dimension make the query fail; callers treat that as no match.
func (s *PostgresStore) Match(ctx context.Context, userID int64, vec []float32, threshold float64, limit int) ([]model.ScoredEntry, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+`, 1 - (embedding <=> $2::vector) AS similarity
		 FROM memories
		 WHERE user_id = $1 AND embedding IS NOT NULL
		   AND 1 - (embedding <=> $2::vector) >= $3
		 ORDER BY embedding <=> $2::vector
		 LIMIT $4`,
		userID, vectorLiteral(vec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("match memories: %w", err)
	}
	defer rows.Close()

	var results []model.ScoredEntry
	for rows.Next() {
		var se model.ScoredEntry
		var sourceURL *string
		if err := rows.Scan(
			&se.ID, &se.UserID, &se.ContentHash, &se.CreatedAt, &se.ContentType,
			&sourceURL, &se.Content, &se.Analysis, &se.Summary, &se.Similarity,
		); err != nil {
			return nil, err
		}
		if sourceURL != nil {
			se.SourceURL = *sourceURL
		}
		results = append(results, se)
	}
	return results, rows.Err()
}

func (s *PostgresStore) DeleteAll(ctx context.Context, userID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Users(ctx context.Context) ([]model.UserCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COUNT(*) AS cnt FROM memories GROUP BY user_id ORDER BY cnt DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("user counts: %w", err)
	}
	defer rows.Close()

	var users []model.UserCount
	for rows.Next() {
		var u model.UserCount
		if err := rows.Scan(&u.UserID, &u.Count); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgEntry(row pgx.Row) (model.Entry, error) {
	var e model.Entry
	var sourceURL *string
	err := row.Scan(
		&e.ID, &e.UserID, &e.ContentHash, &e.CreatedAt, &e.ContentType,
		&sourceURL, &e.Content, &e.Analysis, &e.Summary,
	)
	if sourceURL != nil {
		e.SourceURL = *sourceURL
	}
	return e, err
}
