package retrieval

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const DefaultTopK = 10

// Result is one ranked hit. Score is cosine similarity rounded to three
// decimals so output stays deterministic across storage backends.
type Result struct {
	ChunkID      string  `json:"chunk_id"`
	Content      string  `json:"content"`
	DocumentID   string  `json:"document_id"`
	Title        string  `json:"title"`
	ExternalID   string  `json:"external_id,omitempty"`
	CanonicalRef string  `json:"canonical_ref"`
	SourceURL    string  `json:"source_url,omitempty"`
	DocType      string  `json:"doc_type"`
	Score        float64 `json:"score"`
}

// Filters are optional and independently composable. Categories are resolved
// through the document's originating import batch; ExternalIDPrefix matches
// either the external id or the canonical reference.
type Filters struct {
	DocTypes         []string
	Categories       []string
	ExternalIDPrefix string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, f Filters, topK int) ([]Result, error)
}

type Service struct {
	embedder Embedder
	store    VectorSearcher
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorSearcher, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, logger: l}
}

// Retrieve is best-effort: a missing provider or a failed query embedding
// yields an empty list, never an error. Storage failures still propagate.
func (s *Service) Retrieve(ctx context.Context, query string, f Filters, topK int) ([]Result, error) {
	start := time.Now()
	if topK <= 0 {
		topK = DefaultTopK
	}

	if s.embedder == nil {
		slog.WarnContext(ctx, "retrieval skipped: no embedding provider configured")
		return []Result{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "query embedding failed", "error", err)
		return []Result{}, nil
	}
	if len(vec) == 0 {
		return []Result{}, nil
	}

	results, err := s.store.Search(ctx, vec, f, topK)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Result{}
	}

	for i := range results {
		results[i].Score = math.Round(results[i].Score*1000) / 1000
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:      query,
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}

	return results, nil
}
