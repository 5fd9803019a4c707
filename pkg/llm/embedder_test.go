package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/chainserve/pkg/llm"
)

func TestNewEmbedder(t *testing.T) {
	tests := []struct {
		name    string
		config  llm.EmbedderConfig
		wantErr bool
	}{
		{
			name:   "ollama",
			config: llm.EmbedderConfig{Model: "llama3", BaseURL: "http://localhost:11434"},
		},
		{
			name:   "openai",
			config: llm.EmbedderConfig{Provider: llm.ProviderOpenAI, Model: "text-embedding-3-small", APIKey: "sk-test"},
		},
		{
			name:   "lmstudio",
			config: llm.EmbedderConfig{Provider: llm.ProviderLMStudio, Model: "nomic-embed-text"},
		},
		{
			name:    "unknown provider",
			config:  llm.EmbedderConfig{Provider: "bedrock"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := llm.NewEmbedder(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, emb)
		})
	}
}
