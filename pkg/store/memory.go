package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// ErrNoEmbedder is returned when neither the store nor the call options
// provide an embedder.
var ErrNoEmbedder = errors.New("store: no embedder configured")

type memoryEntry struct {
	id     string
	doc    schema.Document
	vector []float32
	norm   float64
}

// MemoryStore keeps documents and their embeddings in process memory and
// ranks them by cosine similarity.
type MemoryStore struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []memoryEntry
	index   map[string]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemory(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		index:    make(map[string]int),
	}
}

func (s *MemoryStore) embedderFor(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return s.embedder, nil
}

func (s *MemoryStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := parseOptions(options)
	embedder, err := s.embedderFor(opts)
	if err != nil {
		return nil, err
	}

	docs = dedupe(ctx, opts, docs)
	if len(docs) == 0 {
		return nil, nil
	}

	vectors, err := embedDocuments(ctx, embedder, docs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		entry := memoryEntry{
			id:     documentID(doc),
			doc:    copyDocument(doc),
			vector: vectors[i],
			norm:   norm(vectors[i]),
		}
		ids[i] = entry.id
		if pos, ok := s.index[entry.id]; ok {
			s.entries[pos] = entry
			continue
		}
		s.index[entry.id] = len(s.entries)
		s.entries = append(s.entries, entry)
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments documents ordered by
// descending cosine similarity. Ties keep insertion order.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := parseOptions(options)
	embedder, err := s.embedderFor(opts)
	if err != nil {
		return nil, err
	}
	if numDocuments <= 0 {
		return nil, nil
	}

	qv, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qn := norm(qv)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		entry *memoryEntry
		score float32
	}
	hits := make([]hit, 0, len(s.entries))
	for i := range s.entries {
		e := &s.entries[i]
		if len(e.vector) != len(qv) {
			return nil, fmt.Errorf("vector dimension mismatch: stored %d, query %d", len(e.vector), len(qv))
		}
		if !metadataFilter(opts.Filters, e.doc.Metadata) {
			continue
		}
		score := cosine(qv, qn, e.vector, e.norm)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, hit{entry: e, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > numDocuments {
		hits = hits[:numDocuments]
	}

	out := make([]schema.Document, len(hits))
	for i, h := range hits {
		doc := copyDocument(h.entry.doc)
		doc.Score = h.score
		out[i] = doc
	}
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.index = make(map[string]int)
	return nil
}

func (s *MemoryStore) Close() {}

func copyDocument(doc schema.Document) schema.Document {
	metadata := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	doc.Metadata = metadata
	return doc
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (an * bn))
}
