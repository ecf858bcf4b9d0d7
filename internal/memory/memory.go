// Package memory is the per-user analysis memory: deduplicated writes,
// capacity eviction, semantic search with a keyword fallback.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/clip-memory/internal/embedding"
	"github.com/rcliao/clip-memory/internal/metrics"
	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/store"
)

const (
	maxContentChars  = 5000
	maxAnalysisChars = 10000
	listSummaryChars = 100
)

// Config tunes a Store.
type Config struct {
	MaxEntries          int
	TopK                int
	SimilarityThreshold float64
}

// Store is the memory service over a persistence backend.
type Store struct {
	backend  store.Backend
	embedder embedding.Embedder
	cfg      Config
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	locks sync.Map // int64 -> *sync.Mutex
}

// New creates a Store. embedder may be nil, in which case every search is a
// keyword search and entries are stored without embeddings.
func New(backend store.Backend, embedder embedding.Embedder, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.5
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Store{backend: backend, embedder: embedder, cfg: cfg, log: log.WithField("component", "memory"), metrics: m}
}

func (s *Store) lock(userID int64) func() {
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// ContentHash is the dedup key: the first 16 hex chars of md5(content).
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Add stores an analysis for the user. It returns false when the content is
// already stored or the write failed; failures are logged, never returned.
func (s *Store) Add(ctx context.Context, userID int64, content, analysis, sourceURL, contentType string) bool {
	unlock := s.lock(userID)
	defer unlock()

	log := s.log.WithField("user_id", userID)
	hash := ContentHash(content)

	exists, err := s.backend.HasHash(ctx, userID, hash)
	if err != nil {
		log.WithError(err).Error("check duplicate failed")
		return false
	}
	if exists {
		log.WithField("hash", hash).Debug("content already stored, skipping")
		s.metrics.DedupSkipped()
		return false
	}

	if contentType == "" {
		contentType = model.ContentTypeVideo
	}
	e := &model.Entry{
		UserID:      userID,
		ContentHash: hash,
		ContentType: contentType,
		SourceURL:   sourceURL,
		Content:     embedding.Truncate(content, maxContentChars),
		Analysis:    embedding.Truncate(analysis, maxAnalysisChars),
		Summary:     ExtractSummary(analysis),
		Embedding:   s.embed(ctx, content+"\n\n"+analysis),
	}

	if err := s.backend.Insert(ctx, e); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.metrics.DedupSkipped()
			return false
		}
		log.WithError(err).Error("store memory failed")
		return false
	}
	s.metrics.EntryAdded()

	if err := s.evict(ctx, userID); err != nil {
		log.WithError(err).Warn("evict old memories failed")
	}

	log.WithFields(logrus.Fields{"id": e.ID, "embedded": e.Embedding != nil}).Info("memory stored")
	return true
}

func (s *Store) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, embedding.Truncate(text, embedding.MaxInputChars))
	if err != nil {
		s.log.WithError(err).Warn("embedding failed")
		s.metrics.EmbeddingFailed()
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

func (s *Store) evict(ctx context.Context, userID int64) error {
	n, err := s.backend.Count(ctx, userID)
	if err != nil {
		return err
	}
	if over := n - s.cfg.MaxEntries; over > 0 {
		deleted, err := s.backend.DeleteOldest(ctx, userID, over)
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"user_id": userID, "evicted": deleted}).Info("evicted old memories")
	}
	return nil
}

// Search returns up to limit entries relevant to query, best first. limit <= 0
// uses the configured top-K. Semantic matches carry their cosine similarity;
// keyword fallback results carry 0.
func (s *Store) Search(ctx context.Context, userID int64, query string, limit int) []model.ScoredEntry {
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	log := s.log.WithField("user_id", userID)

	if vec := s.embed(ctx, query); vec != nil {
		results, err := s.backend.Match(ctx, userID, vec, s.cfg.SimilarityThreshold, limit)
		if err != nil {
			log.WithError(err).Warn("semantic match failed")
		} else if len(results) > 0 {
			return results
		}
	}

	s.metrics.SearchFellBack()
	results, err := s.keywordSearch(ctx, userID, query, limit)
	if err != nil {
		log.WithError(err).Error("keyword search failed")
		return nil
	}
	return results
}

func (s *Store) keywordSearch(ctx context.Context, userID int64, query string, limit int) ([]model.ScoredEntry, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	entries, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	type hit struct {
		entry model.Entry
		count int
	}
	var hits []hit
	for _, e := range entries {
		if c := CountTokens(e.Content+" "+e.Analysis, tokens); c > 0 {
			hits = append(hits, hit{entry: e, count: c})
		}
	}
	// List is newest first; a stable sort keeps that as the tie-break.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].count > hits[j].count })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]model.ScoredEntry, len(hits))
	for i, h := range hits {
		results[i] = model.ScoredEntry{Entry: h.entry, Similarity: 0}
	}
	return results, nil
}

// GetAll lists the user's entries newest first with shortened summaries.
func (s *Store) GetAll(ctx context.Context, userID int64) ([]model.EntrySummary, error) {
	entries, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.EntrySummary, len(entries))
	for i, e := range entries {
		out[i] = model.EntrySummary{
			ID:          e.ID,
			CreatedAt:   e.CreatedAt,
			ContentType: e.ContentType,
			SourceURL:   e.SourceURL,
			Summary:     embedding.Truncate(e.Summary, listSummaryChars),
		}
	}
	return out, nil
}

// Get returns one full entry.
func (s *Store) Get(ctx context.Context, userID, id int64) (*model.Entry, error) {
	return s.backend.Get(ctx, userID, id)
}

// Stats summarises the user's memory.
func (s *Store) Stats(ctx context.Context, userID int64) (*model.UserStats, error) {
	entries, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &model.UserStats{TotalEntries: len(entries), ContentTypes: []string{}}
	if len(entries) == 0 {
		return st, nil
	}

	first, last := entries[len(entries)-1].CreatedAt, entries[0].CreatedAt
	st.FirstCreated, st.LastCreated = &first, &last

	seen := map[string]bool{}
	for _, e := range entries {
		if !seen[e.ContentType] {
			seen[e.ContentType] = true
			st.ContentTypes = append(st.ContentTypes, e.ContentType)
		}
	}
	sort.Strings(st.ContentTypes)
	return st, nil
}

// Clear deletes all of the user's entries and returns how many were removed.
func (s *Store) Clear(ctx context.Context, userID int64) (int, error) {
	unlock := s.lock(userID)
	defer unlock()

	n, err := s.backend.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "deleted": n}).Info("memory cleared")
	return n, nil
}

// Users lists users holding entries.
func (s *Store) Users(ctx context.Context) ([]model.UserCount, error) {
	return s.backend.Users(ctx)
}

// Export returns the user's full entries, oldest first, for re-import.
func (s *Store) Export(ctx context.Context, userID int64) ([]model.Entry, error) {
	entries, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Import re-adds exported entries for userID through Add, so duplicates are
// skipped and embeddings recomputed. It returns how many were stored.
func (s *Store) Import(ctx context.Context, userID int64, entries []model.Entry) int {
	imported := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		if s.Add(ctx, userID, e.Content, e.Analysis, e.SourceURL, e.ContentType) {
			imported++
		}
	}
	return imported
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
