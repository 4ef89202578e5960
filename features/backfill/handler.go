package backfill

import (
	"context"
	"encoding/json"
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

// Run triggers one bounded batch. The body is optional; {"limit": n} caps it.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		// An empty body is fine; the default batch limit applies.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sum, err := h.service.Run(r.Context(), req.Limit)
	if err != nil {
		slog.Error("backfill run failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeData(w, http.StatusOK, sum)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, map[string]bool{"configured": h.service.IsConfigured()})
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
