package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"compliancekb/internal/middleware"
	"compliancekb/internal/retrieval"
)

type RetrievalService interface {
	Retrieve(ctx context.Context, query string, f retrieval.Filters, topK int) ([]retrieval.Result, error)
}

type Handler struct {
	service RetrievalService
}

func NewHandler(service RetrievalService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query            string   `json:"query"`
		DocTypes         []string `json:"doc_types"`
		Categories       []string `json:"categories"`
		ExternalIDPrefix string   `json:"external_id_prefix"`
		TopK             int      `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.service.Retrieve(r.Context(), req.Query, retrieval.Filters{
		DocTypes:         req.DocTypes,
		Categories:       req.Categories,
		ExternalIDPrefix: req.ExternalIDPrefix,
	}, req.TopK)
	if err != nil {
		slog.Error("search failed", "error", err, "query", req.Query)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"results": results,
		"count":   len(results),
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
