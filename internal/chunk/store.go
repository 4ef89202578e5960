package chunk

import (
	"context"
	"database/sql"
	"fmt"

	"compliancekb/internal/retrieval"
)

// PostgresStore owns the chunks table. Vector-specific reads and writes are
// delegated to the EmbeddingStorage strategy chosen at startup.
type PostgresStore struct {
	db      *sql.DB
	vectors EmbeddingStorage
}

func NewPostgresStore(db *sql.DB, vectors EmbeddingStorage) *PostgresStore {
	return &PostgresStore{db: db, vectors: vectors}
}

func (s *PostgresStore) StorageName() string {
	return s.vectors.Name()
}

func (s *PostgresStore) ListByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	query := `SELECT id, document_id, chunk_index, content, content_hash, start_char, end_char, COALESCE(embedding_model, ''), embedded_at
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentHash, &c.StartChar, &c.EndChar, &c.EmbeddingModel, &c.EmbeddedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, c *Chunk) error {
	query := `INSERT INTO chunks (document_id, chunk_index, content, content_hash, start_char, end_char)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	return s.db.QueryRowContext(ctx, query, c.DocumentID, c.ChunkIndex, c.Content, c.ContentHash, c.StartChar, c.EndChar).Scan(&c.ID)
}

// Replace overwrites the chunk at (document_id, chunk_index) with new content
// and clears every embedding field in the same statement.
func (s *PostgresStore) Replace(ctx context.Context, c *Chunk) error {
	query := fmt.Sprintf(`UPDATE chunks SET content = $1, content_hash = $2, start_char = $3, end_char = $4, %s, embedding_model = NULL, embedded_at = NULL
		WHERE document_id = $5 AND chunk_index = $6`, s.vectors.clearSQL())
	_, err := s.db.ExecContext(ctx, query, c.Content, c.ContentHash, c.StartChar, c.EndChar, c.DocumentID, c.ChunkIndex)
	return err
}

func (s *PostgresStore) DeleteFrom(ctx context.Context, documentID string, fromIndex int) error {
	query := `DELETE FROM chunks WHERE document_id = $1 AND chunk_index >= $2`
	_, err := s.db.ExecContext(ctx, query, documentID, fromIndex)
	return err
}

func (s *PostgresStore) DeleteByDocument(ctx context.Context, documentID string) error {
	query := `DELETE FROM chunks WHERE document_id = $1`
	_, err := s.db.ExecContext(ctx, query, documentID)
	return err
}

// ListStale selects chunks whose embedding is missing or predates the owning
// document's last update, never-embedded first. Mirrors IsStale.
func (s *PostgresStore) ListStale(ctx context.Context, limit int) ([]Chunk, error) {
	query := `SELECT c.id, c.document_id, c.chunk_index, c.content, c.content_hash, c.start_char, c.end_char, COALESCE(c.embedding_model, ''), c.embedded_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.is_active = TRUE AND (c.embedded_at IS NULL OR c.embedded_at < d.updated_at)
		ORDER BY c.embedded_at ASC NULLS FIRST, c.document_id, c.chunk_index
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContentHash, &c.StartChar, &c.EndChar, &c.EmbeddingModel, &c.EmbeddedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) SetEmbedding(ctx context.Context, chunkID string, vec []float32, model string) error {
	return s.vectors.SetEmbedding(ctx, s.db, chunkID, vec, model)
}

func (s *PostgresStore) Search(ctx context.Context, vec []float32, f retrieval.Filters, topK int) ([]retrieval.Result, error) {
	return s.vectors.Search(ctx, s.db, vec, f, topK)
}

func (s *PostgresStore) CountAll(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

func (s *PostgresStore) CountEmbedded(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedded_at IS NOT NULL`).Scan(&count)
	return count, err
}
