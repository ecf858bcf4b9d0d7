// Package store provides memory persistence backends: a local SQLite file and
// a remote Postgres table with vector matching.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/clip-memory/internal/model"
)

var (
	// ErrNotFound is returned when an entry does not exist for the user.
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicate is returned by Insert when the user already holds the content hash.
	ErrDuplicate = errors.New("duplicate content")
)

// Backend persists memory entries. Implementations scope every call to a
// single user and are safe for concurrent use.
type Backend interface {
	// HasHash reports whether the user already stores content with this hash.
	HasHash(ctx context.Context, userID int64, hash string) (bool, error)

	// Insert stores e, assigning ID and, when zero, CreatedAt.
	Insert(ctx context.Context, e *model.Entry) error

	// Count returns the number of entries the user holds.
	Count(ctx context.Context, userID int64) (int, error)

	// DeleteOldest removes up to n of the user's oldest entries.
	DeleteOldest(ctx context.Context, userID int64, n int) (int, error)

	// List returns the user's entries newest first, without embeddings.
	List(ctx context.Context, userID int64) ([]model.Entry, error)

	// Get returns one entry.
	Get(ctx context.Context, userID, id int64) (*model.Entry, error)

	// Match returns entries whose cosine similarity to vec is at least
	// threshold, best first, at most limit.
	Match(ctx context.Context, userID int64, vec []float32, threshold float64, limit int) ([]model.ScoredEntry, error)

	// DeleteAll removes every entry of the user.
	DeleteAll(ctx context.Context, userID int64) (int, error)

	// Users lists users holding entries, with counts.
	Users(ctx context.Context) ([]model.UserCount, error)

	Close() error
}
