package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// WebLoader loads a web page (and optionally the pages it links to) as a
// documentloaders.Loader.
type WebLoader struct {
	scraper *Scraper
	url     string
}

var _ documentloaders.Loader = (*WebLoader)(nil)

func NewWebLoader(config ScraperConfig) (*WebLoader, error) {
	s, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	return &WebLoader{scraper: s, url: config.BaseURL}, nil
}

func (l *WebLoader) Load(ctx context.Context) ([]schema.Document, error) {
	return l.scraper.Scrape(ctx, l.url)
}

func (l *WebLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// FileLoader loads a local file, parsing .html/.htm as HTML and everything
// else as plain text.
type FileLoader struct {
	path string
}

var _ documentloaders.Loader = (*FileLoader)(nil)

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Load(ctx context.Context) ([]schema.Document, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".html", ".htm":
		loader = documentloaders.NewHTML(f)
	default:
		loader = documentloaders.NewText(f)
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", l.path, err)
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["source"] = l.path
	}
	return docs, nil
}

func (l *FileLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}
