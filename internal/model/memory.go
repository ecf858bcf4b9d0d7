// Package model defines the core data types shared across the pipeline and memory store.
package model

import "time"

// Entry represents a stored analysis in a user's memory.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url,omitempty"`
	Content     string    `json:"content"`
	Analysis    string    `json:"analysis"`
	Summary     string    `json:"summary"`
	Embedding   []float32 `json:"-"`
}

// ScoredEntry is an entry ranked against a query.
// Similarity is 0 for keyword matches.
type ScoredEntry struct {
	Entry
	Similarity float64 `json:"similarity"`
}

// EntrySummary is the short listing form of an entry.
type EntrySummary struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url,omitempty"`
	Summary     string    `json:"summary"`
}

// UserStats holds per-user memory statistics.
type UserStats struct {
	TotalEntries int        `json:"total_entries"`
	FirstCreated *time.Time `json:"first_created,omitempty"`
	LastCreated  *time.Time `json:"last_created,omitempty"`
	ContentTypes []string   `json:"content_types"`
}

// UserCount is the number of entries held for one user.
type UserCount struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// ContentTypeVideo is the content type recorded for pipeline output.
const ContentTypeVideo = "video"

// ContentTypeNote is the content type for entries added by hand.
const ContentTypeNote = "note"
