// Package llmtest provides in-process doubles for llms.Model and
// embeddings.Embedder so chains can be exercised without a model server.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// Model is a scripted llms.Model. Reply decides the completion for each
// call; when nil the model echoes the last human message.
type Model struct {
	Reply func(messages []llms.MessageContent) (string, error)

	mu    sync.Mutex
	calls [][]llms.MessageContent
	opts  []llms.CallOptions
}

var _ llms.Model = (*Model)(nil)

// Replying returns a Model that always answers text.
func Replying(text string) *Model {
	return &Model{Reply: func([]llms.MessageContent) (string, error) { return text, nil }}
}

// Failing returns a Model whose every call fails with err.
func Failing(err error) *Model {
	return &Model{Reply: func([]llms.MessageContent) (string, error) { return "", err }}
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent records the call and streams the reply word by word when a
// streaming func is set.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()

	var text string
	var err error
	if m.Reply != nil {
		text, err = m.Reply(messages)
	} else {
		text = LastHuman(messages)
	}
	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		for _, chunk := range SplitKeep(text) {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}, nil
}

// Calls returns the messages of every call so far.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Options returns the call options of every call so far.
func (m *Model) Options() []llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llms.CallOptions(nil), m.opts...)
}

// Text flattens the text parts of a message.
func Text(mc llms.MessageContent) string {
	var b strings.Builder
	for _, p := range mc.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// LastHuman returns the text of the last human message.
func LastHuman(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.ChatMessageTypeHuman {
			return Text(messages[i])
		}
	}
	return ""
}

// SplitKeep splits s after every space, keeping the separators so the chunks
// concatenate back to s.
func SplitKeep(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// Embedder is a deterministic bag-of-words embeddings.Embedder: each word is
// hashed into one of Dim buckets and the vector is L2 normalised, so texts
// sharing words are close under cosine similarity.
type Embedder struct {
	Dim int
	Err error
}

var _ embeddings.Embedder = (*Embedder)(nil)

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.embed(text), nil
}

func (e *Embedder) embed(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	v := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// ErrUnavailable mimics an unreachable model backend.
var ErrUnavailable = errors.New("model backend unavailable")
