package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Title       string `yaml:"title"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// AllowAdd exposes POST /add, which indexes documents into the
	// knowledge base while serving.
	AllowAdd bool `yaml:"allow_add"`
}

type LoaderConfig struct {
	URL               string        `yaml:"url"`
	Path              string        `yaml:"path"`
	MaxDepth          int           `yaml:"max_depth"`
	RateLimit         float64       `yaml:"rate_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	IgnorePatterns    []string      `yaml:"ignore_patterns"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
}

type ProcessorConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap defaults to min(200, chunk_size/5); 0 disables overlap.
	ChunkOverlap *int `yaml:"chunk_overlap"`
	Clean        bool `yaml:"clean"`
}

// Overlap is the configured chunk overlap, or its default when unset.
func (p ProcessorConfig) Overlap() int {
	if p.ChunkOverlap != nil {
		return *p.ChunkOverlap
	}
	return min(200, p.ChunkSize/5)
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	URL         string `yaml:"url"`
	TableName   string `yaml:"table_name"`
	VectorDim   int    `yaml:"vector_dim"`
	BatchSize   int    `yaml:"batch_size"`
	SearchLimit int    `yaml:"search_limit"`
	SkipIngest  bool   `yaml:"skip_ingest"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	// SampleRate defaults to 1; 0 samples nothing.
	SampleRate *float64 `yaml:"sample_rate"`
}

// Rate is the sampling ratio, 1 when unset.
func (t TracingConfig) Rate() float64 {
	if t.SampleRate != nil {
		return *t.SampleRate
	}
	return 1.0
}

// Route describes one chain exposed under Path.
type Route struct {
	Path           string   `yaml:"path"`
	Kind           string   `yaml:"kind"`
	Template       string   `yaml:"template"`
	System         string   `yaml:"system"`
	User           []string `yaml:"user"`
	Text           string   `yaml:"text"`
	InputKey       string   `yaml:"input_key"`
	Provider       string   `yaml:"provider"`
	Model          string   `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"`
	History        bool     `yaml:"history"`
	HistoryAware   bool     `yaml:"history_aware"`
	StripReasoning bool     `yaml:"strip_reasoning"`
	// SearchLimit overrides store.search_limit for a retrieval route.
	SearchLimit int `yaml:"search_limit"`
}

// Route kinds.
const (
	KindPrompt    = "prompt"
	KindChat      = "chat"
	KindRetrieval = "retrieval"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPgVector = "pgvector"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Loader    LoaderConfig    `yaml:"loader"`
	Processor ProcessorConfig `yaml:"processor"`
	Store     StoreConfig     `yaml:"store"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Routes    []Route         `yaml:"routes"`
}

// NeedsRetriever reports whether any configured route pulls documents from
// the knowledge base.
func (c *Config) NeedsRetriever() bool {
	for _, r := range c.Routes {
		if r.Kind == KindRetrieval {
			return true
		}
	}
	return false
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/chainserve/config.yaml"),
			"/etc/chainserve/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = config.LLM.Model
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.BaseURL == "" {
		switch config.LLM.Provider {
		case "openai":
			config.LLM.BaseURL = "https://api.openai.com/v1"
		case "lmstudio":
			config.LLM.BaseURL = "http://localhost:1234/v1"
		default:
			config.LLM.BaseURL = "http://localhost:11434"
		}
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if config.Server.Title == "" {
		config.Server.Title = "LangChain Server"
	}
	if config.Server.Version == "" {
		config.Server.Version = "1.0"
	}
	if config.Server.Description == "" {
		config.Server.Description = "A simple API server using LangChain's Runnable interfaces"
	}

	if config.Loader.URL == "" && config.Loader.Path == "" {
		config.Loader.URL = "https://docs.smith.langchain.com/user_guide"
	}
	if config.Loader.RateLimit == 0 {
		config.Loader.RateLimit = 2.0
	}
	if config.Loader.Timeout == 0 {
		config.Loader.Timeout = 30 * time.Second
	}
	if len(config.Loader.AllowedExtensions) == 0 {
		config.Loader.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == nil {
		overlap := config.Processor.Overlap()
		config.Processor.ChunkOverlap = &overlap
	}

	if config.Store.Backend == "" {
		config.Store.Backend = BackendMemory
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "documents"
	}
	if config.Store.VectorDim == 0 {
		config.Store.VectorDim = 4096 // llama3 embeddings
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}
	if config.Store.SearchLimit == 0 {
		config.Store.SearchLimit = 4
	}

	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = "chainserve"
	}
	if config.Tracing.SampleRate == nil {
		rate := config.Tracing.Rate()
		config.Tracing.SampleRate = &rate
	}

	if len(config.Routes) == 0 {
		config.Routes = DefaultRoutes()
	}
	for i := range config.Routes {
		if config.Routes[i].Kind == "" {
			config.Routes[i].Kind = KindChat
		}
	}
}

// DefaultRoutes is the route table served when the config names none.
func DefaultRoutes() []Route {
	zero := 0.0
	return []Route{
		{Path: "/chain", Kind: KindPrompt, Template: "translate", Temperature: &zero},
		{Path: "/chainv1", Kind: KindChat, Template: "translate_chat", Temperature: &zero},
		{Path: "/trivial", Kind: KindChat, Template: "search_query", History: true, Temperature: &zero},
		{Path: "/retrieval", Kind: KindRetrieval, Template: "context_chat", History: true, HistoryAware: true, Temperature: &zero},
		{Path: "/qa", Kind: KindRetrieval, Template: "context_qa", InputKey: "question"},
		{Path: "/ds", Kind: KindChat, Template: "assistant", Model: "deepseek-r1", StripReasoning: true},
		{Path: "/qwen", Kind: KindChat, Template: "assistant", Model: "qwen2.5"},
		{Path: "/query", Kind: KindRetrieval, Template: "rag_query", SearchLimit: 3},
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && (config.LLM.Provider == "" || config.LLM.Provider == "ollama") {
		config.LLM.BaseURL = baseURL
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.LLM.Provider == "openai" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if host := os.Getenv("CHAINSERVE_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Tracing.Endpoint = endpoint
	}
}
