// Package pipeline turns configured routes into runnable chains.
package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/chainserve/pkg/chain"
	"github.com/xhad/chainserve/pkg/config"
	"github.com/xhad/chainserve/pkg/llm"
	"github.com/xhad/chainserve/pkg/prompt"
)

// Route is a built chain and the path it is served under.
type Route struct {
	Path  string
	Kind  string
	Chain chain.Runnable
}

// Deps are the shared resources routes are built from. Retriever and Store
// may be nil when no retrieval route is configured. Store backs routes that
// set their own search_limit.
type Deps struct {
	Models    *llm.Registry
	Retriever schema.Retriever
	Store     vectorstores.VectorStore
	LLM       config.LLMConfig
}

// NewRegistry returns a model registry seeded with the llm section.
func NewRegistry(cfg config.LLMConfig) *llm.Registry {
	return llm.NewRegistry(ModelConfig(cfg), nil)
}

func ModelConfig(cfg config.LLMConfig) llm.ModelConfig {
	return llm.ModelConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
	}
}

// NewEmbedder builds the embedder for the knowledge base from the llm
// section, using embedding_model.
func NewEmbedder(cfg config.LLMConfig, batchSize int) (embeddings.Embedder, error) {
	return llm.NewEmbedder(llm.EmbedderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.EmbeddingModel,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		BatchSize: batchSize,
	})
}

// Build builds every route, failing on the first one that cannot be built.
func Build(routes []config.Route, deps Deps) ([]Route, error) {
	out := make([]Route, 0, len(routes))
	for _, r := range routes {
		runnable, err := BuildRoute(r, deps)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Path, err)
		}
		out = append(out, Route{Path: r.Path, Kind: r.Kind, Chain: runnable})
	}
	return out, nil
}

// BuildRoute builds the chain for one route.
func BuildRoute(r config.Route, deps Deps) (chain.Runnable, error) {
	if deps.Models == nil {
		return nil, fmt.Errorf("no model registry")
	}
	tmpl, err := routeTemplate(r)
	if err != nil {
		return nil, err
	}
	model, err := deps.Models.Get(r.Provider, r.Model)
	if err != nil {
		return nil, err
	}

	name := RouteName(r.Path)
	opts := []chain.Option{
		chain.WithName(name),
		chain.WithCallOptions(callOptions(r, deps.LLM)...),
	}
	if r.StripReasoning {
		opts = append(opts, chain.WithParser(chain.NewReasoningParser()))
	}

	if r.InputKey != "" {
		if !slices.Contains(tmpl.InputVariables(), r.InputKey) {
			return nil, fmt.Errorf("input_key %q is not a variable of the template (have %v)", r.InputKey, tmpl.InputVariables())
		}
		opts = append(opts, chain.WithPrimary(r.InputKey))
	}

	switch r.Kind {
	case config.KindPrompt, config.KindChat, "":
		return chain.NewLLMChain(model, tmpl, opts...), nil
	case config.KindRetrieval:
		return buildRetrieval(r, deps, model, tmpl, opts)
	default:
		return nil, fmt.Errorf("unknown kind %q", r.Kind)
	}
}

func buildRetrieval(r config.Route, deps Deps, model llms.Model, tmpl prompt.Template, opts []chain.Option) (chain.Runnable, error) {
	base := deps.Retriever
	if r.SearchLimit > 0 {
		if deps.Store == nil {
			return nil, fmt.Errorf("search_limit needs a vector store")
		}
		base = vectorstores.ToRetriever(deps.Store, r.SearchLimit)
	}
	if base == nil {
		return nil, fmt.Errorf("retrieval route needs a knowledge base")
	}
	if !slices.Contains(tmpl.InputVariables(), chain.ContextKey) {
		return nil, fmt.Errorf("retrieval template must use {%s}", chain.ContextKey)
	}

	name := RouteName(r.Path)
	combine := chain.NewLLMChain(model, tmpl, append(opts, chain.WithName(name+".combine"))...)

	key := r.InputKey
	if key == "" {
		for _, v := range tmpl.InputVariables() {
			if v != chain.ContextKey {
				key = v
				break
			}
		}
	}
	if key == "" {
		return nil, fmt.Errorf("retrieval template has no query variable")
	}

	var retriever chain.DocumentRetriever = chain.QueryRetriever{Retriever: base, Key: key}
	if r.HistoryAware {
		rephrase := chain.NewLLMChain(model, prompt.SearchQuery(),
			chain.WithName(name+".rephrase"),
			chain.WithCallOptions(callOptions(r, deps.LLM)...),
		)
		retriever = chain.NewHistoryAwareRetriever(base, rephrase, key)
	}

	return chain.NewRetrievalChain(name, retriever, combine), nil
}

// routeTemplate prefers inline text, then inline system/user messages, then
// the named catalog template.
func routeTemplate(r config.Route) (prompt.Template, error) {
	switch {
	case r.Text != "":
		return prompt.NewText(r.Text), nil
	case r.System != "" || len(r.User) > 0:
		return prompt.Inline(r.System, r.User, r.History), nil
	case r.Template != "":
		return prompt.Lookup(r.Template)
	default:
		return nil, fmt.Errorf("no template or inline prompt")
	}
}

func callOptions(r config.Route, defaults config.LLMConfig) []llms.CallOption {
	temperature := defaults.Temperature
	if r.Temperature != nil {
		temperature = *r.Temperature
	}
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if defaults.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(defaults.MaxTokens))
	}
	return opts
}

// RouteName is the chain name for a path: "/chain" -> "chain", "/" -> "root".
func RouteName(path string) string {
	name := strings.Trim(path, "/")
	if name == "" {
		return "root"
	}
	return strings.ReplaceAll(name, "/", ".")
}
