package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

type ProcessorConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int // chunks shorter than this (after trimming) are dropped
	Clean          bool
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.TextSplitter
}

func NewWithConfig(config ProcessorConfig) Processor {
	// a zero overlap is only defaulted together with the size, so callers
	// can disable overlap explicitly
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = 200
		}
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		),
	}
}

// Process splits every document into chunks. Each chunk keeps a copy of its
// source document's metadata plus a chunk_index.
func (p Processor) Process(docs []schema.Document) ([]schema.Document, error) {
	var out []schema.Document

	for _, doc := range docs {
		content := doc.PageContent
		if p.config.Clean {
			content = cleanText(content)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		chunks, err := p.splitter.SplitText(content)
		if err != nil {
			return nil, fmt.Errorf("split %v: %w", doc.Metadata["source"], err)
		}

		index := 0
		for _, chunk := range chunks {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" || len([]rune(chunk)) < p.config.MinChunkLength {
				continue
			}
			metadata := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["chunk_index"] = index
			index++

			out = append(out, schema.Document{
				PageContent: chunk,
				Metadata:    metadata,
			})
		}
	}

	return out, nil
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRun = regexp.MustCompile(`\s*\n\s*\n\s*`)
)

// cleanText drops invalid UTF-8 and NUL bytes, collapses horizontal
// whitespace and keeps at most one blank line between paragraphs.
func cleanText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
