package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// LMStudio talks to any OpenAI-compatible server (LM Studio, vLLM, llama.cpp)
// through go-openai and exposes it as an llms.Model.
type LMStudio struct {
	client *goopenai.Client
	model  string
}

var _ llms.Model = (*LMStudio)(nil)

func NewLMStudio(config ModelConfig) *LMStudio {
	config = config.withDefaults()

	token := config.APIKey
	if token == "" {
		token = "not-needed"
	}
	oaiCfg := goopenai.DefaultConfig(token)
	oaiCfg.BaseURL = config.BaseURL

	return &LMStudio{
		client: goopenai.NewClientWithConfig(oaiCfg),
		model:  config.Model,
	}
}

// Call implements the single prompt variant of llms.Model.
func (m *LMStudio) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent sends the messages as a chat completion. When a streaming
// func is set the completion is streamed and every delta is forwarded.
func (m *LMStudio) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	model := m.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}

	if opts.StreamingFunc == nil {
		resp, err := m.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("chat completion returned no choices")
		}
		return &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{
				Content:    resp.Choices[0].Message.Content,
				StopReason: string(resp.Choices[0].FinishReason),
			}},
		}, nil
	}

	req.Stream = true
	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var stopReason string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if resp.Choices[0].FinishReason != "" {
			stopReason = string(resp.Choices[0].FinishReason)
		}
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if err := opts.StreamingFunc(ctx, []byte(delta)); err != nil {
			return nil, err
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    content.String(),
			StopReason: stopReason,
		}},
	}, nil
}

// CreateEmbedding lets LMStudio back an embeddings.Embedder.
func (m *LMStudio) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(m.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func toChatMessages(messages []llms.MessageContent) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, mc := range messages {
		var text strings.Builder
		for _, part := range mc.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}

		role := goopenai.ChatMessageRoleUser
		switch mc.Role {
		case llms.ChatMessageTypeSystem:
			role = goopenai.ChatMessageRoleSystem
		case llms.ChatMessageTypeAI:
			role = goopenai.ChatMessageRoleAssistant
		}

		out = append(out, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: text.String(),
		})
	}
	return out
}
