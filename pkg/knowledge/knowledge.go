// Package knowledge builds the retrieval index behind retrieval routes:
// documents are loaded, split into chunks and indexed into a vector store.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/RanFeng/ilog"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/chainserve/pkg/config"
	"github.com/xhad/chainserve/pkg/processor"
	"github.com/xhad/chainserve/pkg/scraper"
	"github.com/xhad/chainserve/pkg/store"
)

// ErrNoDocuments is returned when the loader produced nothing to index.
var ErrNoDocuments = errors.New("knowledge: no documents loaded")

// Progress receives ingestion events. Any field may be nil.
type Progress struct {
	OnPage    func(source string)
	OnSplit   func(documents, chunks int)
	OnIndexed func(done, total int)
}

// Base is an opened, populated store and a retriever over it.
type Base struct {
	Store     store.Store
	Retriever schema.Retriever
	Documents int
	Chunks    int
}

func (b *Base) Close() {
	if b != nil && b.Store != nil {
		b.Store.Close()
	}
}

// Build opens the configured store, ingests the configured source unless
// skip_ingest is set, and returns a retriever returning search_limit
// documents per query.
func Build(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder, progress Progress) (*Base, error) {
	st, err := store.New(ctx, StoreConfig(cfg.Store), embedder)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	base := &Base{Store: st}
	if cfg.Store.SkipIngest {
		n, err := st.Count(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
		if n == 0 {
			ilog.EventWarn(ctx, "knowledge_store_empty", "backend", cfg.Store.Backend)
		}
		base.Chunks = n
	} else {
		base.Documents, base.Chunks, err = Ingest(ctx, cfg, st, progress)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	base.Retriever = vectorstores.ToRetriever(st, searchLimit(cfg.Store))
	ilog.EventInfo(ctx, "knowledge_ready",
		"backend", cfg.Store.Backend,
		"documents", base.Documents,
		"chunks", base.Chunks,
	)
	return base, nil
}

// Ingest loads the configured source, splits it and adds the chunks to st
// in batch_size groups. It returns the number of documents and chunks.
func Ingest(ctx context.Context, cfg *config.Config, st store.Store, progress Progress) (int, int, error) {
	loader, source, err := NewLoader(cfg.Loader, progress.OnPage)
	if err != nil {
		return 0, 0, err
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load %s: %w", source, err)
	}
	if len(docs) == 0 {
		return 0, 0, fmt.Errorf("%w from %s", ErrNoDocuments, source)
	}

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.Overlap(),
		Clean:        cfg.Processor.Clean,
	})
	chunks, err := proc.Process(docs)
	if err != nil {
		return 0, 0, err
	}
	if len(chunks) == 0 {
		return 0, 0, fmt.Errorf("%w from %s: pages had no text", ErrNoDocuments, source)
	}
	if progress.OnSplit != nil {
		progress.OnSplit(len(docs), len(chunks))
	}
	ilog.EventDebug(ctx, "knowledge_split", "source", source, "documents", len(docs), "chunks", len(chunks))

	batchSize := cfg.Store.BatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		if _, err := st.AddDocuments(ctx, chunks[start:end]); err != nil {
			return 0, 0, fmt.Errorf("index chunks %d-%d: %w", start, end, err)
		}
		if progress.OnIndexed != nil {
			progress.OnIndexed(end, len(chunks))
		}
	}

	return len(docs), len(chunks), nil
}

// NewLoader picks the file loader when a path is configured and the web
// loader otherwise. The second return names the source for messages.
func NewLoader(cfg config.LoaderConfig, onPage func(string)) (documentloaders.Loader, string, error) {
	if cfg.Path != "" {
		return scraper.NewFileLoader(cfg.Path), cfg.Path, nil
	}
	loader, err := scraper.NewWebLoader(scraper.ScraperConfig{
		BaseURL:           cfg.URL,
		MaxDepth:          cfg.MaxDepth,
		RateLimit:         cfg.RateLimit,
		IgnorePatterns:    cfg.IgnorePatterns,
		AllowedExtensions: cfg.AllowedExtensions,
		Timeout:           cfg.Timeout,
		OnProgress:        onPage,
	})
	if err != nil {
		return nil, cfg.URL, fmt.Errorf("web loader: %w", err)
	}
	return loader, cfg.URL, nil
}

func StoreConfig(cfg config.StoreConfig) store.VectorStoreConfig {
	return store.VectorStoreConfig{
		Backend:     cfg.Backend,
		ConnString:  cfg.URL,
		TableName:   cfg.TableName,
		VectorDim:   cfg.VectorDim,
		BatchSize:   cfg.BatchSize,
		SearchLimit: searchLimit(cfg),
	}
}

func searchLimit(cfg config.StoreConfig) int {
	if cfg.SearchLimit > 0 {
		return cfg.SearchLimit
	}
	return 4
}
