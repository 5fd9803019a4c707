package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ParseInput decodes a JSON input. A bare string is assigned to the schema's
// primary key; an object is used as is, with its history keys converted to
// chat messages.
func ParseInput(raw json.RawMessage, s Schema) (Input, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: input", ErrMissingInput)
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		if s.Primary == "" {
			return nil, fmt.Errorf("chain takes no string input")
		}
		return Input{s.Primary: text}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("input must be a string or an object: %w", err)
	}
	input := Input(obj)

	for _, key := range s.Optional {
		v, ok := input[key]
		if !ok {
			continue
		}
		history, err := ParseHistory(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		input[key] = history
	}
	return input, nil
}

// ParseHistory converts decoded JSON into chat messages. Each entry is
// either an object with "type" (or "role") and "content", or a two element
// [role, content] array.
func ParseHistory(v any) ([]llms.ChatMessage, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("history must be a list, got %T", v)
	}

	out := make([]llms.ChatMessage, 0, len(list))
	for i, item := range list {
		var role, content string
		switch m := item.(type) {
		case map[string]any:
			role, _ = m["type"].(string)
			if role == "" {
				role, _ = m["role"].(string)
			}
			content, _ = m["content"].(string)
		case []any:
			if len(m) != 2 {
				return nil, fmt.Errorf("history[%d]: expected [role, content]", i)
			}
			role, _ = m[0].(string)
			content, _ = m[1].(string)
		default:
			return nil, fmt.Errorf("history[%d]: unsupported entry %T", i, item)
		}

		msg, err := newChatMessage(role, content)
		if err != nil {
			return nil, fmt.Errorf("history[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func newChatMessage(role, content string) (llms.ChatMessage, error) {
	switch strings.ToLower(role) {
	case "human", "user":
		return llms.HumanChatMessage{Content: content}, nil
	case "ai", "assistant":
		return llms.AIChatMessage{Content: content}, nil
	case "system":
		return llms.SystemChatMessage{Content: content}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}
