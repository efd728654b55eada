// Package config provides configuration loading for cortexd.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Provider selects between the cloud and local implementation of an
// upstream model API.
type Provider string

const (
	// ProviderCloud routes to the hosted API (Groq for chat, HuggingFace
	// for embeddings).
	ProviderCloud Provider = "cloud"

	// ProviderLocal routes to a local Ollama instance.
	ProviderLocal Provider = "local"
)

// Config is the root configuration for cortexd.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Storage    StorageConfig    `koanf:"storage"`
	Ollama     OllamaConfig     `koanf:"ollama"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Chat       ChatConfig       `koanf:"chat"`
	Projection ProjectionConfig `koanf:"projection"`
	Gate       GateConfig       `koanf:"gate"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	CORSOrigins     string   `koanf:"cors_origins"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Origins returns the CORS origin list, splitting the comma-separated
// configuration value.
func (s ServerConfig) Origins() []string {
	parts := strings.Split(s.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the metadata store. An empty URL selects an
// embedded SQLite database; a postgres:// URL selects Postgres.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// IsPostgres reports whether the URL targets a Postgres server.
func (d DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://")
}

// StorageConfig configures on-disk paths.
type StorageConfig struct {
	CacheDir        string `koanf:"cache_dir"`
	VectorStorePath string `koanf:"vector_store_path"`
	ModelDir        string `koanf:"model_dir"`
}

// OllamaConfig configures the local model runtime shared by the chat and
// embedding clients.
type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "cloud", "local", or empty for auto-detection.
	Provider    Provider `koanf:"provider"`
	OllamaModel string   `koanf:"ollama_model"`
	HFURL       string   `koanf:"hf_url"`
	HFToken     Secret   `koanf:"hf_token"`
}

// Resolve returns the effective provider: the configured one, or cloud when
// an HF token is present, local otherwise.
func (e EmbeddingConfig) Resolve() Provider {
	if e.Provider != "" {
		return e.Provider
	}
	if e.HFToken.IsSet() {
		return ProviderCloud
	}
	return ProviderLocal
}

// ChatConfig configures the chat-completion provider used by the summarizer
// and prompt generator.
type ChatConfig struct {
	// Provider is "cloud", "local", or empty for auto-detection.
	Provider    Provider `koanf:"provider"`
	OllamaModel string   `koanf:"ollama_model"`
	GroqModel   string   `koanf:"groq_model"`
	GroqAPIKey  Secret   `koanf:"groq_api_key"`
}

// Resolve returns the effective provider: the configured one, or cloud when
// a Groq API key is present, local otherwise.
func (c ChatConfig) Resolve() Provider {
	if c.Provider != "" {
		return c.Provider
	}
	if c.GroqAPIKey.IsSet() {
		return ProviderCloud
	}
	return ProviderLocal
}

// ProjectionConfig configures the 3-D projection and clustering pass.
type ProjectionConfig struct {
	NNeighbors int     `koanf:"n_neighbors"`
	MinDist    float64 `koanf:"min_dist"`
	NClusters  int     `koanf:"n_clusters"`
}

// GateConfig configures the relevance gate applied to search results.
type GateConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Threshold float64 `koanf:"threshold"`
	APIURL    string  `koanf:"api_url"`
	APIKey    Secret  `koanf:"api_key"`
	Model     string  `koanf:"model"`
}

// Active reports whether gating should run: it needs both the flag and an
// API key.
func (g GateConfig) Active() bool {
	return g.Enabled && g.APIKey.IsSet()
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.CORSOrigins == "" {
		c.Server.CORSOrigins = "http://localhost:3000,http://localhost:5173"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = ".cache"
	}
	if c.Storage.VectorStorePath == "" {
		c.Storage.VectorStorePath = "data/vector_store/chat_memory.json"
	}
	if c.Storage.ModelDir == "" {
		c.Storage.ModelDir = "data/models"
	}
	if c.Database.URL == "" {
		c.Database.URL = "cortex.db"
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.OllamaModel == "" {
		c.Embedding.OllamaModel = "nomic-embed-text"
	}
	if c.Embedding.HFURL == "" {
		c.Embedding.HFURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/nomic-ai/nomic-embed-text-v1.5"
	}
	if c.Chat.OllamaModel == "" {
		c.Chat.OllamaModel = "qwen2.5"
	}
	if c.Chat.GroqModel == "" {
		c.Chat.GroqModel = "llama-3.3-70b-versatile"
	}
	if c.Projection.NNeighbors == 0 {
		c.Projection.NNeighbors = 15
	}
	if c.Projection.MinDist == 0 {
		c.Projection.MinDist = 0.1
	}
	if c.Projection.NClusters == 0 {
		c.Projection.NClusters = 5
	}
	if c.Gate.Threshold == 0 {
		c.Gate.Threshold = 0.5
	}
	if c.Gate.APIURL == "" {
		c.Gate.APIURL = "https://api.groq.com/openai/v1/chat/completions"
	}
	if c.Gate.Model == "" {
		c.Gate.Model = "llama-3.1-8b-instant"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if err := validProvider(c.Embedding.Provider); err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	if err := validProvider(c.Chat.Provider); err != nil {
		return fmt.Errorf("chat provider: %w", err)
	}
	if c.Projection.NNeighbors < 2 {
		return fmt.Errorf("projection n_neighbors must be >= 2, got %d", c.Projection.NNeighbors)
	}
	if c.Projection.MinDist <= 0 {
		return fmt.Errorf("projection min_dist must be positive, got %g", c.Projection.MinDist)
	}
	if c.Projection.NClusters < 1 {
		return fmt.Errorf("projection n_clusters must be >= 1, got %d", c.Projection.NClusters)
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate threshold must be in [0, 1], got %g", c.Gate.Threshold)
	}
	return nil
}

func validProvider(p Provider) error {
	switch p {
	case "", ProviderCloud, ProviderLocal:
		return nil
	default:
		return fmt.Errorf("must be %q or %q, got %q", ProviderCloud, ProviderLocal, p)
	}
}
