package chunk

import (
	"crypto/sha256"
	"fmt"
	"math"
	"time"
)

// Chunk is the unit of embedding and retrieval: a bounded contiguous slice of
// one document's text. Embedding fields are nil until the backfill job fills
// them, and are cleared whenever the content they were computed from changes.
type Chunk struct {
	ID             string
	DocumentID     string
	ChunkIndex     int
	Content        string
	ContentHash    string
	StartChar      int
	EndChar        int
	Embedding      []float32
	EmbeddingModel string
	EmbeddedAt     *time.Time
}

func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// IsStale reports whether the chunk's embedding can no longer be trusted:
// either it was never embedded, or the owning document changed since. This is
// the single place the staleness rule lives; the stale-selection SQL mirrors it.
func IsStale(c Chunk, docUpdatedAt time.Time) bool {
	if c.EmbeddedAt == nil {
		return true
	}
	return c.EmbeddedAt.Before(docUpdatedAt)
}

// CosineSimilarity returns a value in [-1, 1], 1 meaning identical direction.
// Used by the JSON embedding storage, which ranks in process.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
