package config

import (
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1 << 20

// envKeys maps recognised environment variables to config keys. Variables
// outside this map are ignored so unrelated process environment never leaks
// into configuration.
var envKeys = map[string]string{
	"HOST":                   "server.host",
	"PORT":                   "server.port",
	"CORS_ORIGINS":           "server.cors_origins",
	"SHUTDOWN_TIMEOUT":       "server.shutdown_timeout",
	"DATABASE_URL":           "database.url",
	"CACHE_DIR":              "storage.cache_dir",
	"VECTOR_STORE_PATH":      "storage.vector_store_path",
	"MODEL_DIR":              "storage.model_dir",
	"OLLAMA_BASE_URL":        "ollama.base_url",
	"EMBEDDING_PROVIDER":     "embedding.provider",
	"OLLAMA_EMBEDDING_MODEL": "embedding.ollama_model",
	"HF_EMBEDDING_URL":       "embedding.hf_url",
	"HF_API_TOKEN":           "embedding.hf_token",
	"CHAT_PROVIDER":          "chat.provider",
	"OLLAMA_MODEL":           "chat.ollama_model",
	"GROQ_MODEL":             "chat.groq_model",
	"GROQ_API_KEY":           "chat.groq_api_key",
	"UMAP_N_NEIGHBORS":       "projection.n_neighbors",
	"UMAP_MIN_DIST":          "projection.min_dist",
	"N_CLUSTERS":             "projection.n_clusters",
	"GATE_ENABLED":           "gate.enabled",
	"GATE_THRESHOLD":         "gate.threshold",
	"GATE_API_URL":           "gate.api_url",
	"GATE_API_KEY":           "gate.api_key",
	"GATE_MODEL":             "gate.model",
	"LOG_LEVEL":              "log.level",
	"LOG_FORMAT":             "log.format",
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (see envKeys)
//  2. YAML config file, when configPath is non-empty and the file exists
//  3. Defaults from ApplyDefaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// The gate runs unless explicitly disabled; a bool zero value cannot
	// express that, so the default is applied here where the loader knows
	// whether the key was set at all.
	if !k.Exists("gate.enabled") {
		if err := k.Set("gate.enabled", true); err != nil {
			return nil, fmt.Errorf("failed to set default: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
