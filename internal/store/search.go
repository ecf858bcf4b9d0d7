package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/rcliao/clip-memory/internal/embedding"
	"github.com/rcliao/clip-memory/internal/model"
)

// Match scores the user's embedded entries against vec in process. Entries
// stored without an embedding are skipped.
func (s *SQLiteStore) Match(ctx context.Context, userID int64, vec []float32, threshold float64, limit int) ([]model.ScoredEntry, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content_hash, created_at, content_type, source_url, content, analysis, summary, embedding
		 FROM memories WHERE user_id = ? AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("match memories: %w", err)
	}
	defer rows.Close()

	var results []model.ScoredEntry
	for rows.Next() {
		var blob []byte
		e, err := scanEntry(scanWithBlob{rows, &blob})
		if err != nil {
			return nil, err
		}
		sim := embedding.CosineSimilarity(vec, decodeVector(blob))
		if sim < threshold {
			continue
		}
		results = append(results, model.ScoredEntry{Entry: e, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scanWithBlob appends a trailing embedding column to a scanEntry scan.
type scanWithBlob struct {
	row  scanner
	blob *[]byte
}

func (s scanWithBlob) Scan(dest ...interface{}) error {
	return s.row.Scan(append(dest, s.blob)...)
}
