package llm

import (
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Factory builds a model from its config. NewModel is the default.
type Factory func(ModelConfig) (llms.Model, error)

// Registry hands out one shared client per (provider, model) pair so routes
// that name the same model reuse a single connection.
type Registry struct {
	base    ModelConfig
	factory Factory

	mu     sync.Mutex
	models map[string]llms.Model
}

func NewRegistry(base ModelConfig, factory Factory) *Registry {
	if factory == nil {
		factory = NewModel
	}
	return &Registry{
		base:    base.withDefaults(),
		factory: factory,
		models:  make(map[string]llms.Model),
	}
}

// Get returns the model for provider/model, falling back to the base config
// for empty values.
func (r *Registry) Get(provider, model string) (llms.Model, error) {
	cfg := r.base
	if provider != "" && provider != cfg.Provider {
		// a different provider does not inherit the base server URL
		cfg.Provider = provider
		cfg.BaseURL = ""
		cfg = cfg.withDefaults()
	}
	if model != "" {
		cfg.Model = model
	}

	key := cfg.Provider + "/" + cfg.Model

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[key]; ok {
		return m, nil
	}
	m, err := r.factory(cfg)
	if err != nil {
		return nil, err
	}
	r.models[key] = m
	return m, nil
}
