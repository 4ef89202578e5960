package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"compliancekb/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocType    string            `json:"doc_type"`
		ExternalID string            `json:"external_id"`
		Title      string            `json:"title"`
		FullText   string            `json:"full_text"`
		SourceURL  string            `json:"source_url"`
		Meta       map[string]string `json:"meta"`
		BatchID    string            `json:"batch_id"`
		IsActive   *bool             `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "title is required", http.StatusBadRequest)
		return
	}

	id, err := h.service.Upsert(r.Context(), UpsertInput{
		DocType:    req.DocType,
		ExternalID: req.ExternalID,
		Title:      req.Title,
		FullText:   req.FullText,
		SourceURL:  req.SourceURL,
		Meta:       req.Meta,
		BatchID:    req.BatchID,
		IsActive:   req.IsActive,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidDocType) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("upsert failed", "error", err, "title", req.Title)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeData(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.Error("get document failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeData(w, http.StatusOK, doc)
}

func (h *Handler) Rechunk(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ChunkDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.Error("rechunk failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeData(w, http.StatusOK, map[string]int{"chunk_count": count})
}

func (h *Handler) RechunkAll(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.ChunkAll(r.Context())
	if err != nil {
		slog.Error("rechunk all failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeData(w, http.StatusOK, sum)
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "name is required", http.StatusBadRequest)
		return
	}

	b := &Batch{Name: req.Name, Category: req.Category}
	if err := h.service.CreateBatch(r.Context(), b); err != nil {
		slog.Error("create batch failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeData(w, http.StatusCreated, b)
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
