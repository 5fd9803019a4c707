package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const (
	BackendMemory   = "memory"
	BackendPgVector = "pgvector"
)

// Store is a vectorstores.VectorStore that can also report and reset its
// contents.
type Store interface {
	vectorstores.VectorStore
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close()
}

type VectorStoreConfig struct {
	Backend     string
	ConnString  string
	TableName   string
	VectorDim   int
	BatchSize   int
	SearchLimit int
}

// New opens the configured backend.
func New(ctx context.Context, config VectorStoreConfig, embedder embeddings.Embedder) (Store, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemory(embedder), nil
	case BackendPgVector:
		return NewPgVector(ctx, config, embedder)
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Backend)
	}
}

func parseOptions(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// documentID is stable for a given source and chunk so re-ingesting a page
// replaces its chunks instead of duplicating them.
func documentID(doc schema.Document) string {
	source, _ := doc.Metadata["source"].(string)
	if source == "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(doc.PageContent)).String()
	}
	name := source
	if idx, ok := doc.Metadata["chunk_index"]; ok {
		name += "#" + fmt.Sprint(idx)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// metadataFilter reports whether metadata carries every key/value in filter.
// A nil or non-map filter matches everything.
func metadataFilter(filter any, metadata map[string]any) bool {
	want, ok := filter.(map[string]any)
	if !ok {
		return true
	}
	for k, v := range want {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func chunkIndex(doc schema.Document) int {
	switch v := doc.Metadata["chunk_index"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func embedDocuments(ctx context.Context, embedder embeddings.Embedder, docs []schema.Document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}

func dedupe(ctx context.Context, opts vectorstores.Options, docs []schema.Document) []schema.Document {
	if opts.Deduplicater == nil {
		return docs
	}
	out := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		if !opts.Deduplicater(ctx, doc) {
			out = append(out, doc)
		}
	}
	return out
}
