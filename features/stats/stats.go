package stats

import (
	"context"
	"log/slog"
)

type DocumentCounter interface {
	CountActive(ctx context.Context) (int, error)
}

type ChunkCounter interface {
	CountAll(ctx context.Context) (int, error)
	CountEmbedded(ctx context.Context) (int, error)
}

type Stats struct {
	DocumentsCount    int     `json:"documents_count"`
	ChunksCount       int     `json:"chunks_count"`
	EmbeddedCount     int     `json:"embedded_count"`
	EmbeddingCoverage float64 `json:"embedding_coverage"`
}

// Service computes corpus coverage. This is a dashboard read: a failed
// sub-count degrades to zero with a warning instead of failing the whole
// report, and an empty corpus yields zero coverage, not a division error.
type Service struct {
	documents DocumentCounter
	chunks    ChunkCounter
}

func NewService(documents DocumentCounter, chunks ChunkCounter) *Service {
	return &Service{documents: documents, chunks: chunks}
}

func (s *Service) GetStats(ctx context.Context) Stats {
	var out Stats

	if count, err := s.documents.CountActive(ctx); err != nil {
		slog.WarnContext(ctx, "failed to count documents", "error", err)
	} else {
		out.DocumentsCount = count
	}

	if count, err := s.chunks.CountAll(ctx); err != nil {
		slog.WarnContext(ctx, "failed to count chunks", "error", err)
	} else {
		out.ChunksCount = count
	}

	if count, err := s.chunks.CountEmbedded(ctx); err != nil {
		slog.WarnContext(ctx, "failed to count embedded chunks", "error", err)
	} else {
		out.EmbeddedCount = count
	}

	if out.ChunksCount > 0 {
		out.EmbeddingCoverage = float64(out.EmbeddedCount) / float64(out.ChunksCount)
	}

	return out
}
