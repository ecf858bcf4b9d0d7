package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/clip-memory/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Backend using a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		content_type TEXT NOT NULL,
		source_url   TEXT,
		content      TEXT NOT NULL,
		analysis     TEXT NOT NULL,
		summary      TEXT NOT NULL,
		embedding    BLOB,
		UNIQUE (user_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) HasHash(ctx context.Context, userID int64, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND content_hash = ?`,
		userID, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check hash: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, e *model.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var sourceURL *string
	if e.SourceURL != "" {
		sourceURL = &e.SourceURL
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memories
		 (user_id, content_hash, created_at, content_type, source_url, content, analysis, summary, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ContentHash, e.CreatedAt.UTC().Format(timeLayout), e.ContentType, sourceURL,
		e.Content, e.Analysis, e.Summary, encodeVector(e.Embedding))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert memory id: %w", err)
	}
	e.ID = id
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteOldest(ctx context.Context, userID int64, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id IN (
			SELECT id FROM memories WHERE user_id = ?
			ORDER BY created_at ASC, id ASC LIMIT ?)`,
		userID, n)
	if err != nil {
		return 0, fmt.Errorf("evict memories: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return int(deleted), nil
}

func (s *SQLiteStore) List(ctx context.Context, userID int64) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content_hash, created_at, content_type, source_url, content, analysis, summary
		 FROM memories WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, userID, id int64) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content_hash, created_at, content_type, source_url, content, analysis, summary
		 FROM memories WHERE user_id = ? AND id = ?`, userID, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, userID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var sourceURL sql.NullString
	var createdAt string

	err := row.Scan(
		&e.ID, &e.UserID, &e.ContentHash, &createdAt, &e.ContentType,
		&sourceURL, &e.Content, &e.Analysis, &e.Summary,
	)
	if err != nil {
		return e, err
	}

	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if sourceURL.Valid {
		e.SourceURL = sourceURL.String
	}
	return e, nil
}
