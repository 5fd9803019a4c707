package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama", "openai", "lmstudio":
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "LLM base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid LLM base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 32768 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 32768",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	// Validate Loader config
	if c.Loader.URL != "" {
		if u, err := url.Parse(c.Loader.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "loader.url",
				Message: "invalid loader URL",
			})
		}
	}

	if c.Loader.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "loader.max_depth",
			Message: "max_depth must not be negative",
		})
	}

	if c.Loader.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "loader.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	for _, ext := range c.Loader.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			errors = append(errors, ValidationError{
				Field:   "loader.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if overlap := c.Processor.Overlap(); overlap < 0 || overlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Store config
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPgVector:
		if c.Store.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.url",
				Message: "database URL is required for the pgvector backend",
			})
		}
		if c.Store.VectorDim < 1 {
			errors = append(errors, ValidationError{
				Field:   "store.vector_dim",
				Message: "vector_dim must be positive",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Store.Backend),
		})
	}

	if c.Store.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Store.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.search_limit",
			Message: "search_limit must be positive",
		})
	}

	if rate := c.Tracing.Rate(); rate < 0 || rate > 1 {
		errors = append(errors, ValidationError{
			Field:   "tracing.sample_rate",
			Message: "sample_rate must be between 0 and 1",
		})
	}

	// Validate routes
	seen := make(map[string]bool)
	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if !strings.HasPrefix(r.Path, "/") || len(r.Path) < 2 {
			errors = append(errors, ValidationError{
				Field:   field + ".path",
				Message: fmt.Sprintf("path %q must start with / and name the route", r.Path),
			})
		}
		if seen[r.Path] {
			errors = append(errors, ValidationError{
				Field:   field + ".path",
				Message: fmt.Sprintf("duplicate path %q", r.Path),
			})
		}
		seen[r.Path] = true

		switch r.Kind {
		case KindPrompt:
			if r.Template == "" && r.Text == "" {
				errors = append(errors, ValidationError{
					Field:   field + ".template",
					Message: "prompt routes need a template or inline text",
				})
			}
		case KindChat, KindRetrieval:
			if r.Template == "" && r.Text == "" && r.System == "" && len(r.User) == 0 {
				errors = append(errors, ValidationError{
					Field:   field + ".template",
					Message: r.Kind + " routes need a template, inline text or inline messages",
				})
			}
		default:
			errors = append(errors, ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown kind %q", r.Kind),
			})
		}

		if r.SearchLimit < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".search_limit",
				Message: "search_limit must not be negative",
			})
		}

		if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
			errors = append(errors, ValidationError{
				Field:   field + ".temperature",
				Message: "temperature must be between 0 and 2",
			})
		}
	}

	return errors
}
