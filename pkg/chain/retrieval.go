package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/chainserve/pkg/prompt"
)

// ContextKey is the template variable retrieved documents are stuffed into.
const ContextKey = "context"

// DocumentRetriever finds the documents relevant to an invocation.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, input Input) ([]schema.Document, error)
}

// QueryRetriever searches with the value of Key as the query.
type QueryRetriever struct {
	Retriever schema.Retriever
	Key       string
}

func (r QueryRetriever) Retrieve(ctx context.Context, input Input) ([]schema.Document, error) {
	query, err := stringValue(input, r.Key)
	if err != nil {
		return nil, err
	}
	return r.Retriever.GetRelevantDocuments(ctx, query)
}

// HistoryAwareRetriever rewrites the conversation into a standalone search
// query before retrieving. Without history the input itself is the query.
type HistoryAwareRetriever struct {
	retriever schema.Retriever
	rephrase  *LLMChain
	key       string
}

// NewHistoryAwareRetriever wires rephrase, a chain over the search_query
// template (chat_history + input), in front of retriever. key names the
// input holding the user's latest message.
func NewHistoryAwareRetriever(retriever schema.Retriever, rephrase *LLMChain, key string) *HistoryAwareRetriever {
	return &HistoryAwareRetriever{retriever: retriever, rephrase: rephrase, key: key}
}

func (r *HistoryAwareRetriever) Retrieve(ctx context.Context, input Input) ([]schema.Document, error) {
	query, err := r.Query(ctx, input)
	if err != nil {
		return nil, err
	}
	return r.retriever.GetRelevantDocuments(ctx, query)
}

// Query returns the search query for input.
func (r *HistoryAwareRetriever) Query(ctx context.Context, input Input) (string, error) {
	text, err := stringValue(input, r.key)
	if err != nil {
		return "", err
	}

	history, err := prompt.HistoryMessages(input[prompt.HistoryKey])
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return text, nil
	}

	out, err := r.rephrase.Invoke(ctx, Input{"input": text, prompt.HistoryKey: input[prompt.HistoryKey]})
	if err != nil {
		return "", fmt.Errorf("rephrase query: %w", err)
	}
	ilog.EventDebug(ctx, "history_aware_query", "input", text, "query", out.Text)
	return out.Text, nil
}

// RetrievalChain retrieves documents, stuffs them into the context variable
// and runs the combine chain over the result.
type RetrievalChain struct {
	name      string
	retriever DocumentRetriever
	combine   *LLMChain
	separator string
}

var _ Runnable = (*RetrievalChain)(nil)

func NewRetrievalChain(name string, retriever DocumentRetriever, combine *LLMChain) *RetrievalChain {
	return &RetrievalChain{
		name:      name,
		retriever: retriever,
		combine:   combine,
		separator: "\n\n",
	}
}

func (c *RetrievalChain) Name() string { return c.name }

func (c *RetrievalChain) Schema() Schema {
	inner := c.combine.Schema()
	s := Schema{Optional: inner.Optional, WithDocuments: true}
	for _, k := range inner.Required {
		if k != ContextKey {
			s.Required = append(s.Required, k)
		}
	}
	s.Primary = inner.Primary
	if s.Primary == ContextKey && len(s.Required) > 0 {
		s.Primary = s.Required[0]
	}
	return s
}

func (c *RetrievalChain) Invoke(ctx context.Context, input Input) (Output, error) {
	ctx, span := startSpan(ctx, "chain.invoke", c.name)
	out, err := c.run(ctx, input, nil)
	endSpan(span, err)
	return out, err
}

func (c *RetrievalChain) Stream(ctx context.Context, input Input, fn StreamFunc) (Output, error) {
	ctx, span := startSpan(ctx, "chain.stream", c.name)
	out, err := c.run(ctx, input, fn)
	endSpan(span, err)
	return out, err
}

func (c *RetrievalChain) run(ctx context.Context, input Input, fn StreamFunc) (Output, error) {
	if err := c.Schema().Validate(input); err != nil {
		return Output{}, err
	}

	docs, err := c.retriever.Retrieve(ctx, input)
	if err != nil {
		return Output{}, fmt.Errorf("%s: retrieve: %w", c.name, err)
	}
	ilog.EventDebug(ctx, "retrieval_documents", "chain", c.name, "count", len(docs))

	values := make(Input, len(input)+1)
	for k, v := range input {
		values[k] = v
	}
	values[ContextKey] = FormatDocuments(docs, c.separator)

	var out Output
	if fn != nil {
		out, err = c.combine.Stream(ctx, values, fn)
	} else {
		out, err = c.combine.Invoke(ctx, values)
	}
	if err != nil {
		return Output{}, err
	}
	out.Documents = docs
	return out, nil
}

// FormatDocuments joins the page content of docs with sep.
func FormatDocuments(docs []schema.Document, sep string) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.PageContent)
	}
	return strings.Join(parts, sep)
}

func stringValue(input Input, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingInput, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}
