package chunk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"compliancekb/internal/retrieval"
)

// EmbeddingStorage is the strategy for how chunk vectors are persisted and
// searched. Selected once at startup by DetectEmbeddingStorage; never probed
// in the hot path.
type EmbeddingStorage interface {
	Name() string
	SetEmbedding(ctx context.Context, db *sql.DB, chunkID string, vec []float32, model string) error
	Search(ctx context.Context, db *sql.DB, vec []float32, f retrieval.Filters, topK int) ([]retrieval.Result, error)

	// SQL SET fragment that nulls out this strategy's embedding columns.
	clearSQL() string
}

// DetectEmbeddingStorage probes whether the pgvector-typed column exists on
// the chunks table (the migration only adds it when the extension is
// installed) and picks the strategy accordingly.
func DetectEmbeddingStorage(ctx context.Context, db *sql.DB) (EmbeddingStorage, error) {
	const probe = `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'chunks' AND column_name = 'embedding'
	)`

	var hasVector bool
	if err := db.QueryRowContext(ctx, probe).Scan(&hasVector); err != nil {
		return nil, fmt.Errorf("embedding storage probe: %w", err)
	}

	if hasVector {
		return PgvectorStorage{}, nil
	}
	return JSONStorage{}, nil
}

const searchColumns = `c.id, c.content, d.id, d.title, COALESCE(d.external_id, ''), d.canonical_ref, COALESCE(d.source_url, ''), d.doc_type`

// appendFilterSQL adds the optional, independently composable retrieval
// filters as WHERE predicates.
func appendFilterSQL(f retrieval.Filters, conds *[]string, args *[]interface{}) {
	if len(f.DocTypes) > 0 {
		*args = append(*args, pq.Array(f.DocTypes))
		*conds = append(*conds, fmt.Sprintf("d.doc_type = ANY($%d)", len(*args)))
	}
	if len(f.Categories) > 0 {
		*args = append(*args, pq.Array(f.Categories))
		*conds = append(*conds, fmt.Sprintf("b.category = ANY($%d)", len(*args)))
	}
	if f.ExternalIDPrefix != "" {
		*args = append(*args, f.ExternalIDPrefix+"%")
		*conds = append(*conds, fmt.Sprintf("(d.external_id ILIKE $%d OR d.canonical_ref ILIKE $%d)", len(*args), len(*args)))
	}
}

// PgvectorStorage keeps vectors in a pgvector column and lets Postgres do the
// cosine ordering.
type PgvectorStorage struct{}

func (PgvectorStorage) Name() string { return "pgvector" }

func (PgvectorStorage) SetEmbedding(ctx context.Context, db *sql.DB, chunkID string, vec []float32, model string) error {
	query := `UPDATE chunks SET embedding = $1::vector, embedding_json = NULL, embedding_model = $2, embedded_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, vectorLiteral(vec), model, chunkID)
	return err
}

func (PgvectorStorage) Search(ctx context.Context, db *sql.DB, vec []float32, f retrieval.Filters, topK int) ([]retrieval.Result, error) {
	args := []interface{}{vectorLiteral(vec)}
	conds := []string{"c.embedded_at IS NOT NULL", "d.is_active = TRUE"}
	appendFilterSQL(f, &conds, &args)
	args = append(args, topK)

	query := fmt.Sprintf(`SELECT %s, 1 - (c.embedding <=> $1::vector) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN import_batches b ON b.id = d.batch_id
		WHERE %s
		ORDER BY c.embedding <=> $1::vector
		LIMIT $%d`, searchColumns, strings.Join(conds, " AND "), len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []retrieval.Result
	for rows.Next() {
		var r retrieval.Result
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.DocumentID, &r.Title, &r.ExternalID, &r.CanonicalRef, &r.SourceURL, &r.DocType, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (PgvectorStorage) clearSQL() string {
	return "embedding = NULL, embedding_json = NULL"
}

func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// JSONStorage is the fallback when pgvector is not installed: vectors live in
// a jsonb column and ranking happens in process. Fine for small corpora, and
// keeps local/dev databases working without the extension.
type JSONStorage struct{}

func (JSONStorage) Name() string { return "json" }

func (JSONStorage) SetEmbedding(ctx context.Context, db *sql.DB, chunkID string, vec []float32, model string) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	query := `UPDATE chunks SET embedding_json = $1, embedding_model = $2, embedded_at = NOW() WHERE id = $3`
	_, err = db.ExecContext(ctx, query, payload, model, chunkID)
	return err
}

func (JSONStorage) Search(ctx context.Context, db *sql.DB, vec []float32, f retrieval.Filters, topK int) ([]retrieval.Result, error) {
	args := []interface{}{}
	conds := []string{"c.embedding_json IS NOT NULL", "d.is_active = TRUE"}
	appendFilterSQL(f, &conds, &args)

	query := fmt.Sprintf(`SELECT %s, c.embedding_json
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN import_batches b ON b.id = d.batch_id
		WHERE %s`, searchColumns, strings.Join(conds, " AND "))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []retrieval.Result
	for rows.Next() {
		var r retrieval.Result
		var raw []byte
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.DocumentID, &r.Title, &r.ExternalID, &r.CanonicalRef, &r.SourceURL, &r.DocType, &raw); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal(raw, &emb); err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %s: %w", r.ChunkID, err)
		}
		r.Score = CosineSimilarity(vec, emb)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (JSONStorage) clearSQL() string {
	return "embedding_json = NULL"
}
