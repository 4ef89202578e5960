package chunk

import (
	"context"
	"log/slog"
	"strings"

	"compliancekb/internal/text"
)

// Store is the persistence surface the reconciler writes through. Nothing else
// in the system is allowed to write chunk content.
type Store interface {
	ListByDocument(ctx context.Context, documentID string) ([]Chunk, error)
	Insert(ctx context.Context, c *Chunk) error
	Replace(ctx context.Context, c *Chunk) error
	DeleteFrom(ctx context.Context, documentID string, fromIndex int) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Reconciler keeps a document's chunk rows in sync with its current text.
// Unchanged chunks keep their embeddings; changed ones are overwritten in
// place with embedding fields cleared, so a stale vector is never attributed
// to new content.
type Reconciler struct {
	store    Store
	splitter text.Splitter
}

func NewReconciler(store Store, splitter text.Splitter) *Reconciler {
	return &Reconciler{store: store, splitter: splitter}
}

// Reconcile returns the number of chunks the document has afterwards.
// Re-running it on unchanged text is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, documentID, fullText string) (int, error) {
	if strings.TrimSpace(fullText) == "" {
		if err := r.store.DeleteByDocument(ctx, documentID); err != nil {
			return 0, err
		}
		return 0, nil
	}

	frags := r.splitter.Split(fullText)

	existing, err := r.store.ListByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	var replaced, inserted int
	for i, f := range frags {
		next := Chunk{
			DocumentID:  documentID,
			ChunkIndex:  i,
			Content:     f.Content,
			ContentHash: HashContent(f.Content),
			StartChar:   f.StartChar,
			EndChar:     f.EndChar,
		}

		if i < len(existing) {
			if existing[i].ContentHash == next.ContentHash {
				// Content unchanged at this index; the embedding stays valid.
				continue
			}
			if err := r.store.Replace(ctx, &next); err != nil {
				return 0, err
			}
			replaced++
			continue
		}

		if err := r.store.Insert(ctx, &next); err != nil {
			return 0, err
		}
		inserted++
	}

	if len(frags) < len(existing) {
		if err := r.store.DeleteFrom(ctx, documentID, len(frags)); err != nil {
			return 0, err
		}
	}

	if replaced > 0 || inserted > 0 || len(frags) != len(existing) {
		slog.InfoContext(ctx, "chunks reconciled",
			"document_id", documentID,
			"total", len(frags),
			"replaced", replaced,
			"inserted", inserted,
			"deleted", max(len(existing)-len(frags), 0))
	}

	return len(frags), nil
}
