package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"compliancekb/features/backfill"
	"compliancekb/internal/middleware"
)

type BackfillRunner interface {
	Run(ctx context.Context, limit int) (backfill.Summary, error)
}

type BackfillConsumer struct {
	job        BackfillRunner
	batchLimit int
}

func NewBackfillConsumer(job BackfillRunner, batchLimit int) *BackfillConsumer {
	return &BackfillConsumer{job: job, batchLimit: batchLimit}
}

func (h *BackfillConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload BackfillPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	sum, err := h.job.Run(runCtx, h.batchLimit)
	if err != nil {
		slog.ErrorContext(ctx, "backfill batch failed", "error", err, "document_id", payload.DocumentID)
		return err // Retry
	}

	slog.InfoContext(ctx, "backfill batch complete",
		"document_id", payload.DocumentID,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"errors", sum.Errors)
	return nil
}
