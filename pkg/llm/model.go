package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported providers.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderLMStudio = "lmstudio"
)

// ModelConfig represents the configuration for a chat model client.
type ModelConfig struct {
	Provider string
	Model    string
	BaseURL  string // server URL, e.g. http://localhost:11434 for Ollama
	APIKey   string
}

func (c ModelConfig) withDefaults() ModelConfig {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		c.Model = "llama3"
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.BaseURL = "https://api.openai.com/v1"
		case ProviderLMStudio:
			c.BaseURL = "http://localhost:1234/v1"
		default:
			c.BaseURL = "http://localhost:11434"
		}
	}
	return c
}

// NewModel creates the llms.Model for the configured provider.
func NewModel(config ModelConfig) (llms.Model, error) {
	config = config.withDefaults()

	switch config.Provider {
	case ProviderOllama:
		m, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama model %s: %w", config.Model, err)
		}
		return m, nil
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithBaseURL(config.BaseURL),
		}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai model %s: %w", config.Model, err)
		}
		return m, nil
	case ProviderLMStudio:
		return NewLMStudio(config), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
}
