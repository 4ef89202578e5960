package document

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *MockRepository, rec *MockReconciler) *Handler {
	return NewHandler(NewService(repo, rec, nil))
}

func TestHandler_Upsert(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo := new(MockRepository)
		rec := new(MockReconciler)
		repo.On("GetByCanonicalRef", mock.Anything, mock.Anything).Return(nil, nil)
		repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
		rec.On("Reconcile", mock.Anything, mock.Anything, mock.Anything).Return(1, nil)

		body := `{"doc_type":"CLAUSE","external_id":"252.204-7012","title":"Safeguarding","full_text":"text"}`
		req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body))
		w := httptest.NewRecorder()

		newTestHandler(repo, rec).Upsert(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "new-id", resp.Data["id"])
	})

	t.Run("missing title", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(`{"doc_type":"CLAUSE"}`))
		w := httptest.NewRecorder()

		newTestHandler(new(MockRepository), new(MockReconciler)).Upsert(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("invalid doc type", func(t *testing.T) {
		body := `{"doc_type":"NOVEL","title":"x"}`
		req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body))
		w := httptest.NewRecorder()

		newTestHandler(new(MockRepository), new(MockReconciler)).Upsert(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid document type")
	})
}

func TestHandler_Get_NotFound(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/documents/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	newTestHandler(repo, new(MockReconciler)).Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestHandler_CreateBatch(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)

	body := `{"name":"dfars-import","category":"dfars"}`
	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))
	w := httptest.NewRecorder()

	newTestHandler(repo, new(MockReconciler)).CreateBatch(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}
