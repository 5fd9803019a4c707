package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/chainserve/internal/llmtest"
	"github.com/xhad/chainserve/pkg/prompt"
)

func TestVariables(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"Question: {input}", []string{"input"}},
		{"{context} and {input} then {context}", []string{"context", "input"}},
		{"literal {{braces}} and {x}", []string{"x"}},
		{"我的文本 {text}", []string{"text"}},
		{"no variables", nil},
		{"unterminated {oops", nil},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, prompt.Variables(tt.template))
		})
	}
}

func TestTextFormat(t *testing.T) {
	tmpl, err := prompt.Lookup("translate")
	require.NoError(t, err)
	assert.Equal(t, []string{"input"}, tmpl.InputVariables())

	msgs, err := tmpl.Format(map[string]any{"input": "What is your glorious purpose?"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
	assert.Contains(t, llmtest.Text(msgs[0]), "ORIGINAL TEXT:\nWhat is your glorious purpose?")
	assert.Contains(t, llmtest.Text(msgs[0]), "Simplified Chinese")

	_, err = tmpl.Format(map[string]any{})
	assert.ErrorIs(t, err, prompt.ErrMissingVariable)
}

func TestChatFormat(t *testing.T) {
	tmpl, err := prompt.Lookup("translate_chat")
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, tmpl.InputVariables())
	assert.Empty(t, tmpl.Placeholders())

	msgs, err := tmpl.Format(map[string]any{"text": "请你给我讲一个笑话"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, "我的文本 请你给我讲一个笑话", llmtest.Text(msgs[1]))
}

func TestChatHistoryPlaceholder(t *testing.T) {
	tmpl, err := prompt.Lookup("search_query")
	require.NoError(t, err)
	assert.Equal(t, []string{prompt.HistoryKey}, tmpl.Placeholders())
	assert.Equal(t, []string{"input"}, tmpl.InputVariables())

	// history is optional
	msgs, err := tmpl.Format(map[string]any{"input": "Tell me how"})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	history := []llms.ChatMessage{
		llms.HumanChatMessage{Content: "Can LangSmith help test my LLM applications?"},
		llms.AIChatMessage{Content: "Yes!"},
	}
	msgs, err = tmpl.Format(map[string]any{"input": "Tell me how", prompt.HistoryKey: history})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[1].Role)
	assert.Equal(t, "Yes!", llmtest.Text(msgs[1]))
	assert.Equal(t, "Tell me how", llmtest.Text(msgs[2]))

	_, err = tmpl.Format(map[string]any{"input": "x", prompt.HistoryKey: "not a list"})
	assert.Error(t, err)
}

func TestRagQueryFormat(t *testing.T) {
	tmpl, err := prompt.Lookup("rag_query")
	require.NoError(t, err)
	assert.Equal(t, []string{"input", "context"}, tmpl.InputVariables())

	msgs, err := tmpl.Format(map[string]any{
		"input":   "What do tropical flowers need?",
		"context": "Minerals form in rock.",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	text := llmtest.Text(msgs[0])
	assert.Contains(t, text, "If the question does not relate to the context, answer it as normal.")
	assert.Contains(t, text, "Question:\nWhat do tropical flowers need?\n\nContext:\nMinerals form in rock.")
}

func TestInline(t *testing.T) {
	tmpl := prompt.Inline("You are {persona}.", []string{"{input}"}, true)
	assert.Equal(t, []string{"persona", "input"}, tmpl.InputVariables())
	assert.Equal(t, []string{prompt.HistoryKey}, tmpl.Placeholders())

	msgs, err := tmpl.Format(map[string]any{"persona": "a pirate", "input": "hello"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are a pirate.", llmtest.Text(msgs[0]))
}

func TestLookupUnknown(t *testing.T) {
	_, err := prompt.Lookup("nope")
	assert.Error(t, err)
	assert.Contains(t, prompt.Names(), "context_chat")
}
