package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
}

// NewEmbedder creates an embeddings.Embedder backed by the configured provider.
func NewEmbedder(config EmbedderConfig) (embeddings.Embedder, error) {
	mc := ModelConfig{
		Provider: config.Provider,
		Model:    config.Model,
		BaseURL:  config.BaseURL,
		APIKey:   config.APIKey,
	}.withDefaults()

	if config.BatchSize <= 0 {
		config.BatchSize = 512
	}

	var client embeddings.EmbedderClient
	switch mc.Provider {
	case ProviderOllama:
		emb, err := ollama.New(ollama.WithModel(mc.Model), ollama.WithServerURL(mc.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = emb
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithEmbeddingModel(mc.Model),
			openai.WithBaseURL(mc.BaseURL),
		}
		if mc.APIKey != "" {
			opts = append(opts, openai.WithToken(mc.APIKey))
		}
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = emb
	case ProviderLMStudio:
		client = NewLMStudio(mc)
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}
