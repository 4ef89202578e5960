package backfill

import (
	"context"
	"log/slog"

	"compliancekb/internal/chunk"
)

const DefaultBatchLimit = 50

// Summary reports one bounded batch. Skipped is reserved for rate limiting
// and is always zero for now.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type ChunkStore interface {
	ListStale(ctx context.Context, limit int) ([]chunk.Chunk, error)
	SetEmbedding(ctx context.Context, chunkID string, vec []float32, model string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service fills stale chunk embeddings in bounded batches. One misbehaving
// provider call never aborts the rest of the batch; storage failures do.
type Service struct {
	chunks        ChunkStore
	embedder      Embedder
	model         string
	dimension     int
	maxInputChars int
}

func NewService(chunks ChunkStore, embedder Embedder, model string, dimension, maxInputChars int) *Service {
	return &Service{
		chunks:        chunks,
		embedder:      embedder,
		model:         model,
		dimension:     dimension,
		maxInputChars: maxInputChars,
	}
}

func (s *Service) IsConfigured() bool {
	return s.embedder != nil
}

// Run selects up to limit stale chunks (never-embedded first) and embeds them
// one by one. A missing provider is reported as a single counted error, not a
// failure.
func (s *Service) Run(ctx context.Context, limit int) (Summary, error) {
	if s.embedder == nil {
		slog.WarnContext(ctx, "embedding backfill skipped: no provider configured")
		return Summary{Errors: 1}, nil
	}

	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	pending, err := s.chunks.ListStale(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, c := range pending {
		input := c.Content
		if s.maxInputChars > 0 && len(input) > s.maxInputChars {
			input = input[:s.maxInputChars]
		}

		vec, err := s.embedder.Embed(ctx, input)
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "error", err, "chunk_id", c.ID, "document_id", c.DocumentID)
			sum.Errors++
			continue
		}
		if len(vec) == 0 || (s.dimension > 0 && len(vec) != s.dimension) {
			slog.ErrorContext(ctx, "provider returned unusable vector",
				"chunk_id", c.ID, "got_dim", len(vec), "want_dim", s.dimension)
			sum.Errors++
			continue
		}

		if err := s.chunks.SetEmbedding(ctx, c.ID, vec, s.model); err != nil {
			// Storage failure is infrastructure, not a per-item condition.
			return sum, err
		}
		sum.Processed++
	}

	slog.InfoContext(ctx, "embedding backfill batch complete",
		"selected", len(pending), "processed", sum.Processed, "skipped", sum.Skipped, "errors", sum.Errors)
	return sum, nil
}
