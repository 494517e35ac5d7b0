package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/quaero-ai/quaero/internal/store"
	"github.com/quaero-ai/quaero/provider"
)

// SearchStore is the slice of the persistence layer the searcher needs.
type SearchStore interface {
	SearchChunks(ctx context.Context, documentID int64, embedding []float32, limit int) ([]store.ChunkSearchResult, error)
}

// Result is a retrieved chunk scored by cosine similarity to the query.
type Result struct {
	ChunkID    int64   `json:"chunk_id"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// Searcher embeds a query and retrieves the nearest chunks of a document.
type Searcher struct {
	logger      *log.Logger
	store       SearchStore
	embedder    provider.Embedder
	defaultTopK int
	maxTopK     int
}

func NewSearcher(logger *log.Logger, st SearchStore, embedder provider.Embedder, defaultTopK, maxTopK int) *Searcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}
	return &Searcher{logger: logger, store: st, embedder: embedder, defaultTopK: defaultTopK, maxTopK: maxTopK}
}

// Search returns up to topK chunks of the document ranked by similarity to
// query. topK <= 0 selects the default; values above the maximum are clamped.
// Fewer results than requested is normal for short documents.
func (s *Searcher) Search(ctx context.Context, documentID int64, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	embedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.store.SearchChunks(ctx, documentID, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			ChunkID:    row.ChunkID,
			Content:    row.Content,
			ChunkIndex: row.ChunkIndex,
			Similarity: roundSimilarity(1 - row.Distance),
		})
	}
	s.logger.Printf("document %d: query matched %d chunk(s)", documentID, len(results))
	return results, nil
}

// roundSimilarity keeps scores stable across float noise: four decimal places
// is plenty for ranking display.
func roundSimilarity(v float64) float64 {
	return math.Round(v*10000) / 10000
}
