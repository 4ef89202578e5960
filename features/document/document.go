package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"compliancekb/internal/config"
	"compliancekb/internal/middleware"
	"compliancekb/internal/worker"
)

type DocType string

const (
	DocTypeClause        DocType = "CLAUSE"
	DocTypeControl       DocType = "CONTROL"
	DocTypeTemplate      DocType = "TEMPLATE"
	DocTypeManualSection DocType = "MANUAL_SECTION"
	DocTypePolicy        DocType = "POLICY"
	DocTypeSOP           DocType = "SOP"
	DocTypeFRM           DocType = "FRM"
)

var docTypes = map[DocType]bool{
	DocTypeClause:        true,
	DocTypeControl:       true,
	DocTypeTemplate:      true,
	DocTypeManualSection: true,
	DocTypePolicy:        true,
	DocTypeSOP:           true,
	DocTypeFRM:           true,
}

func (t DocType) Valid() bool {
	return docTypes[t]
}

var ErrInvalidDocType = errors.New("invalid document type")

// Document is the canonical record for one regulatory/contract source text.
// TextHash is nil when there is no retrievable content; UpdatedAt is the
// staleness marker the backfill job compares embeddings against.
type Document struct {
	ID           string            `json:"id"`
	DocType      string            `json:"doc_type"`
	ExternalID   string            `json:"external_id,omitempty"`
	CanonicalRef string            `json:"canonical_ref"`
	Title        string            `json:"title"`
	FullText     string            `json:"-"`
	TextHash     *string           `json:"-"`
	SourceURL    string            `json:"source_url,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	BatchID      string            `json:"batch_id,omitempty"`
	IsActive     bool              `json:"is_active"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Batch records one ingestion run; its category is what the retrieval
// category filter resolves against, and its id prefixes canonical refs.
type Batch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

type UpsertInput struct {
	DocType    string
	ExternalID string
	Title      string
	FullText   string
	SourceURL  string
	Meta       map[string]string
	BatchID    string
	IsActive   *bool // nil means active
}

type Repository interface {
	GetByCanonicalRef(ctx context.Context, ref string) (*Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	Insert(ctx context.Context, d *Document) error
	Update(ctx context.Context, d *Document) error
	ListActiveWithText(ctx context.Context) ([]Document, error)
	CountActive(ctx context.Context) (int, error)
	CreateBatch(ctx context.Context, b *Batch) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, documentID, fullText string) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo       Repository
	reconciler Reconciler
	pub        EventPublisher
}

func NewService(repo Repository, reconciler Reconciler, pub EventPublisher) *Service {
	return &Service{repo: repo, reconciler: reconciler, pub: pub}
}

// CanonicalRef derives the dedup key: doc type plus the whitespace-normalized,
// upper-cased external id (falling back to the title when no external id
// exists), prefixed with the first 8 characters of the originating batch id
// when one is given. Two calls with the same inputs always agree.
func CanonicalRef(docType, externalID, title, batchID string) string {
	key := strings.ToUpper(strings.Join(strings.Fields(externalID), " "))
	if key == "" {
		key = strings.ToUpper(strings.Join(strings.Fields(title), " "))
	}

	ref := docType + ":" + key
	if batchID != "" {
		prefix := batchID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		ref = prefix + ":" + ref
	}
	return ref
}

// HashText digests the full text; empty or whitespace-only text hashes to nil,
// which downstream means "no retrievable content".
func HashText(fullText string) *string {
	if strings.TrimSpace(fullText) == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(fullText))
	h := fmt.Sprintf("%x", sum)
	return &h
}

// Upsert resolves the canonical ref, then inserts or updates in place. Chunk
// reconciliation runs only when the text hash changed (including transitions
// to or from empty). UpdatedAt advances on every upsert, so even a
// metadata-only update may flag embeddings stale; that is the accepted cost of
// a single staleness rule.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (string, error) {
	if !DocType(in.DocType).Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDocType, in.DocType)
	}

	ref := CanonicalRef(in.DocType, in.ExternalID, in.Title, in.BatchID)
	newHash := HashText(in.FullText)

	existing, err := s.repo.GetByCanonicalRef(ctx, ref)
	if err != nil {
		return "", err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	doc := &Document{
		DocType:      in.DocType,
		ExternalID:   in.ExternalID,
		CanonicalRef: ref,
		Title:        in.Title,
		FullText:     in.FullText,
		TextHash:     newHash,
		SourceURL:    in.SourceURL,
		Meta:         in.Meta,
		BatchID:      in.BatchID,
		IsActive:     active,
	}

	if existing == nil {
		if err := s.repo.Insert(ctx, doc); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "document created", "id", doc.ID, "canonical_ref", ref)

		if newHash != nil {
			if _, err := s.reconciler.Reconcile(ctx, doc.ID, in.FullText); err != nil {
				return "", err
			}
			s.publishBackfill(ctx, doc.ID)
		}
		return doc.ID, nil
	}

	doc.ID = existing.ID
	if err := s.repo.Update(ctx, doc); err != nil {
		return "", err
	}

	if !hashEqual(existing.TextHash, newHash) {
		if _, err := s.reconciler.Reconcile(ctx, doc.ID, in.FullText); err != nil {
			return "", err
		}
		s.publishBackfill(ctx, doc.ID)
	}

	return doc.ID, nil
}

// ChunkDocument re-runs reconciliation for one document from its stored text.
func (s *Service) ChunkDocument(ctx context.Context, id string) (int, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.reconciler.Reconcile(ctx, doc.ID, doc.FullText)
}

type ChunkAllSummary struct {
	Processed   int `json:"processed"`
	TotalChunks int `json:"total_chunks"`
}

// ChunkAll reconciles every active document that has text.
func (s *Service) ChunkAll(ctx context.Context) (ChunkAllSummary, error) {
	docs, err := s.repo.ListActiveWithText(ctx)
	if err != nil {
		return ChunkAllSummary{}, err
	}

	var sum ChunkAllSummary
	for _, d := range docs {
		count, err := s.reconciler.Reconcile(ctx, d.ID, d.FullText)
		if err != nil {
			return sum, err
		}
		sum.Processed++
		sum.TotalChunks += count
	}

	slog.InfoContext(ctx, "rechunked corpus", "documents", sum.Processed, "chunks", sum.TotalChunks)
	return sum, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) CreateBatch(ctx context.Context, b *Batch) error {
	return s.repo.CreateBatch(ctx, b)
}

func (s *Service) publishBackfill(ctx context.Context, documentID string) {
	if s.pub == nil {
		return
	}
	payload, _ := json.Marshal(worker.BackfillPayload{
		DocumentID:    documentID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicEmbedBackfill, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish backfill event", "error", err, "document_id", documentID)
	} else {
		slog.InfoContext(ctx, "published backfill event", "document_id", documentID)
	}
}

func hashEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
