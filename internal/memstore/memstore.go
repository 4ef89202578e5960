// Package memstore provides an in-memory implementation of the document
// repository and chunk store with brute-force cosine search. It backs the
// pipeline tests and local development without Postgres; it is not meant for
// corpora that would not fit in memory.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"compliancekb/features/document"
	"compliancekb/internal/chunk"
	"compliancekb/internal/retrieval"
)

var ErrNotFound = errors.New("memstore: not found")

// Store implements the document repository. Chunk operations live on the
// ChunkView returned by Chunks, because the document and chunk stores both
// name an Insert operation.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]*document.Document
	byRef   map[string]string
	batches map[string]*document.Batch
	chunks  map[string][]*chunk.Chunk
}

func New() *Store {
	return &Store{
		docs:    make(map[string]*document.Document),
		byRef:   make(map[string]string),
		batches: make(map[string]*document.Batch),
		chunks:  make(map[string][]*chunk.Chunk),
	}
}

// Chunks returns the chunk-side view over the same data.
func (s *Store) Chunks() *ChunkView {
	return &ChunkView{s: s}
}

func (s *Store) GetByCanonicalRef(ctx context.Context, ref string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, nil
	}
	d := *s.docs[id]
	return &d, nil
}

func (s *Store) Get(ctx context.Context, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) Insert(ctx context.Context, d *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	d.UpdatedAt = time.Now()
	cp := *d
	s.docs[d.ID] = &cp
	s.byRef[d.CanonicalRef] = d.ID
	return nil
}

func (s *Store) Update(ctx context.Context, d *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[d.ID]; !ok {
		return ErrNotFound
	}
	d.UpdatedAt = time.Now()
	cp := *d
	s.docs[d.ID] = &cp
	s.byRef[d.CanonicalRef] = d.ID
	return nil
}

func (s *Store) ListActiveWithText(ctx context.Context) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []document.Document
	for _, d := range s.docs {
		if d.IsActive && d.TextHash != nil {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CanonicalRef < docs[j].CanonicalRef })
	return docs, nil
}

func (s *Store) CountActive(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, d := range s.docs {
		if d.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateBatch(ctx context.Context, b *document.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = uuid.NewString()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

// ChunkView implements the chunk store, the stale-chunk listing used by the
// embedding backfill, vector search, and the chunk counters.
type ChunkView struct {
	s *Store
}

func (v *ChunkView) ListByDocument(ctx context.Context, documentID string) ([]chunk.Chunk, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []chunk.Chunk
	for _, c := range v.s.chunks[documentID] {
		out = append(out, *c)
	}
	return out, nil
}

func (v *ChunkView) Insert(ctx context.Context, c *chunk.Chunk) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c.ID = uuid.NewString()
	cp := *c
	list := append(v.s.chunks[c.DocumentID], &cp)
	sort.Slice(list, func(i, j int) bool { return list[i].ChunkIndex < list[j].ChunkIndex })
	v.s.chunks[c.DocumentID] = list
	return nil
}

func (v *ChunkView) Replace(ctx context.Context, c *chunk.Chunk) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.chunks[c.DocumentID] {
		if existing.ChunkIndex == c.ChunkIndex {
			existing.Content = c.Content
			existing.ContentHash = c.ContentHash
			existing.StartChar = c.StartChar
			existing.EndChar = c.EndChar
			existing.Embedding = nil
			existing.EmbeddingModel = ""
			existing.EmbeddedAt = nil
			c.ID = existing.ID
			return nil
		}
	}
	return ErrNotFound
}

func (v *ChunkView) DeleteFrom(ctx context.Context, documentID string, fromIndex int) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	kept := v.s.chunks[documentID][:0]
	for _, c := range v.s.chunks[documentID] {
		if c.ChunkIndex < fromIndex {
			kept = append(kept, c)
		}
	}
	v.s.chunks[documentID] = kept
	return nil
}

func (v *ChunkView) DeleteByDocument(ctx context.Context, documentID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.chunks, documentID)
	return nil
}

func (v *ChunkView) ListStale(ctx context.Context, limit int) ([]chunk.Chunk, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var stale []chunk.Chunk
	for docID, list := range v.s.chunks {
		doc, ok := v.s.docs[docID]
		if !ok || !doc.IsActive {
			continue
		}
		for _, c := range list {
			if chunk.IsStale(*c, doc.UpdatedAt) {
				stale = append(stale, *c)
			}
		}
	}

	// Never-embedded first, then oldest embedding, then stable position order.
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i], stale[j]
		switch {
		case a.EmbeddedAt == nil && b.EmbeddedAt != nil:
			return true
		case a.EmbeddedAt != nil && b.EmbeddedAt == nil:
			return false
		case a.EmbeddedAt != nil && b.EmbeddedAt != nil && !a.EmbeddedAt.Equal(*b.EmbeddedAt):
			return a.EmbeddedAt.Before(*b.EmbeddedAt)
		case a.DocumentID != b.DocumentID:
			return a.DocumentID < b.DocumentID
		default:
			return a.ChunkIndex < b.ChunkIndex
		}
	})

	if limit > 0 && limit < len(stale) {
		stale = stale[:limit]
	}
	return stale, nil
}

func (v *ChunkView) SetEmbedding(ctx context.Context, chunkID string, vec []float32, model string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, list := range v.s.chunks {
		for _, c := range list {
			if c.ID == chunkID {
				now := time.Now()
				c.Embedding = append([]float32(nil), vec...)
				c.EmbeddingModel = model
				c.EmbeddedAt = &now
				return nil
			}
		}
	}
	return ErrNotFound
}

func (v *ChunkView) Search(ctx context.Context, vec []float32, f retrieval.Filters, topK int) ([]retrieval.Result, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var results []retrieval.Result
	for docID, list := range v.s.chunks {
		doc, ok := v.s.docs[docID]
		if !ok || !doc.IsActive || !v.s.matches(doc, f) {
			continue
		}
		for _, c := range list {
			if c.Embedding == nil {
				continue
			}
			results = append(results, retrieval.Result{
				ChunkID:      c.ID,
				Content:      c.Content,
				DocumentID:   doc.ID,
				Title:        doc.Title,
				ExternalID:   doc.ExternalID,
				CanonicalRef: doc.CanonicalRef,
				SourceURL:    doc.SourceURL,
				DocType:      doc.DocType,
				Score:        chunk.CosineSimilarity(vec, c.Embedding),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) matches(d *document.Document, f retrieval.Filters) bool {
	if len(f.DocTypes) > 0 && !containsFold(f.DocTypes, d.DocType) {
		return false
	}
	if len(f.Categories) > 0 {
		b, ok := s.batches[d.BatchID]
		if !ok || !containsFold(f.Categories, b.Category) {
			return false
		}
	}
	if f.ExternalIDPrefix != "" {
		p := strings.ToUpper(f.ExternalIDPrefix)
		if !strings.HasPrefix(strings.ToUpper(d.ExternalID), p) &&
			!strings.HasPrefix(strings.ToUpper(d.CanonicalRef), p) {
			return false
		}
	}
	return true
}

func (v *ChunkView) CountAll(ctx context.Context) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	count := 0
	for _, list := range v.s.chunks {
		count += len(list)
	}
	return count, nil
}

func (v *ChunkView) CountEmbedded(ctx context.Context) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	count := 0
	for _, list := range v.s.chunks {
		for _, c := range list {
			if c.EmbeddedAt != nil {
				count++
			}
		}
	}
	return count, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
