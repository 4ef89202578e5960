package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubSearcher struct {
	results []Result
	err     error

	gotTopK    int
	gotFilters Filters
}

func (s *stubSearcher) Search(ctx context.Context, vector []float32, f Filters, topK int) ([]Result, error) {
	s.gotTopK = topK
	s.gotFilters = f
	return s.results, s.err
}

func TestRetrieve_NoEmbedderYieldsEmpty(t *testing.T) {
	svc := NewService(nil, &stubSearcher{}, nil)

	results, err := svc.Retrieve(context.Background(), "safeguarding", Filters{}, 5)

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_EmbedFailureYieldsEmpty(t *testing.T) {
	svc := NewService(&stubEmbedder{err: errors.New("quota exceeded")}, &stubSearcher{}, nil)

	results, err := svc.Retrieve(context.Background(), "safeguarding", Filters{}, 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_EmptyVectorYieldsEmpty(t *testing.T) {
	svc := NewService(&stubEmbedder{vec: nil}, &stubSearcher{}, nil)

	results, err := svc.Retrieve(context.Background(), "", Filters{}, 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_StorageErrorPropagates(t *testing.T) {
	svc := NewService(&stubEmbedder{vec: []float32{1}}, &stubSearcher{err: errors.New("db gone")}, nil)

	_, err := svc.Retrieve(context.Background(), "q", Filters{}, 5)

	assert.EqualError(t, err, "db gone")
}

func TestRetrieve_RoundsScores(t *testing.T) {
	searcher := &stubSearcher{results: []Result{
		{ChunkID: "c-1", Score: 0.87654321},
		{ChunkID: "c-2", Score: 0.1234},
	}}
	svc := NewService(&stubEmbedder{vec: []float32{1}}, searcher, nil)

	results, err := svc.Retrieve(context.Background(), "q", Filters{}, 5)

	require.NoError(t, err)
	assert.Equal(t, 0.877, results[0].Score)
	assert.Equal(t, 0.123, results[1].Score)
}

func TestRetrieve_DefaultsAndForwardsTopK(t *testing.T) {
	searcher := &stubSearcher{}
	svc := NewService(&stubEmbedder{vec: []float32{1}}, searcher, nil)

	_, err := svc.Retrieve(context.Background(), "q", Filters{DocTypes: []string{"CLAUSE"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, searcher.gotTopK)
	assert.Equal(t, []string{"CLAUSE"}, searcher.gotFilters.DocTypes)

	_, err = svc.Retrieve(context.Background(), "q", Filters{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.gotTopK)
}

func TestRetrieve_LogsQuery(t *testing.T) {
	var buf bytes.Buffer
	searcher := &stubSearcher{results: []Result{{ChunkID: "c-1", Score: 0.5}}}
	svc := NewService(&stubEmbedder{vec: []float32{1}}, searcher, NewQueryLogger(&buf))

	_, err := svc.Retrieve(context.Background(), "incident reporting", Filters{}, 5)
	require.NoError(t, err)

	var entry QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "incident reporting", entry.Query)
	assert.Equal(t, 1, entry.NumResults)
}
