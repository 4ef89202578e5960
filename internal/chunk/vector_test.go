package chunk

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancekb/internal/retrieval"
)

func TestDetectEmbeddingStorage(t *testing.T) {
	t.Run("pgvector column present", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		storage, err := DetectEmbeddingStorage(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, "pgvector", storage.Name())
	})

	t.Run("falls back to json", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		storage, err := DetectEmbeddingStorage(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, "json", storage.Name())
	})
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", vectorLiteral([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestPgvectorStorage_SetEmbedding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE chunks SET embedding = .*::vector, embedding_json = NULL, embedding_model = .*, embedded_at = NOW").
		WithArgs("[0.5,1]", "gemini-embedding-001", "c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = PgvectorStorage{}.SetEmbedding(context.Background(), db, "c-1", []float32{0.5, 1}, "gemini-embedding-001")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgvectorStorage_SearchAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "content", "doc_id", "title", "external_id", "canonical_ref", "source_url", "doc_type", "score"}
	mock.ExpectQuery(`d\.doc_type = ANY\(\$2\).*b\.category = ANY\(\$3\).*d\.external_id ILIKE \$4 OR d\.canonical_ref ILIKE \$4`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c-1", "covered defense information", "d-1", "Safeguarding", "252.204-7012", "CLAUSE:252.204-7012", "", "CLAUSE", 0.91))

	results, err := PgvectorStorage{}.Search(context.Background(), db, []float32{0.1, 0.2}, retrieval.Filters{
		DocTypes:         []string{"CLAUSE"},
		Categories:       []string{"dfars"},
		ExternalIDPrefix: "252.204",
	}, 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CLAUSE:252.204-7012", results[0].CanonicalRef)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONStorage_SetEmbedding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE chunks SET embedding_json = .*, embedding_model = .*, embedded_at = NOW").
		WithArgs([]byte("[0.5,1]"), "gemini-embedding-001", "c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = JSONStorage{}.SetEmbedding(context.Background(), db, "c-1", []float32{0.5, 1}, "gemini-embedding-001")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONStorage_SearchRanksInProcess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "content", "doc_id", "title", "external_id", "canonical_ref", "source_url", "doc_type", "embedding_json"}
	mock.ExpectQuery("c.embedding_json IS NOT NULL").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c-low", "off topic", "d-1", "A", "", "POLICY:A", "", "POLICY", []byte("[0,1]")).
			AddRow("c-high", "on topic", "d-2", "B", "", "POLICY:B", "", "POLICY", []byte("[1,0]")).
			AddRow("c-mid", "related", "d-3", "C", "", "POLICY:C", "", "POLICY", []byte("[1,1]")))

	results, err := JSONStorage{}.Search(context.Background(), db, []float32{1, 0}, retrieval.Filters{}, 2)

	require.NoError(t, err)
	require.Len(t, results, 2, "truncated to topK")
	assert.Equal(t, "c-high", results[0].ChunkID)
	assert.Equal(t, "c-mid", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	require.NoError(t, mock.ExpectationsWereMet())
}
