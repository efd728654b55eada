package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/cache"
	"github.com/fyrsmithlabs/cortexd/internal/config"
	"github.com/fyrsmithlabs/cortexd/internal/embeddings"
	"github.com/fyrsmithlabs/cortexd/internal/gate"
	"github.com/fyrsmithlabs/cortexd/internal/httpapi"
	"github.com/fyrsmithlabs/cortexd/internal/ingest"
	"github.com/fyrsmithlabs/cortexd/internal/llm"
	"github.com/fyrsmithlabs/cortexd/internal/logging"
	"github.com/fyrsmithlabs/cortexd/internal/mcp"
	"github.com/fyrsmithlabs/cortexd/internal/projection"
	"github.com/fyrsmithlabs/cortexd/internal/promptgen"
	"github.com/fyrsmithlabs/cortexd/internal/retrieval"
	"github.com/fyrsmithlabs/cortexd/internal/store"
	"github.com/fyrsmithlabs/cortexd/internal/summarizer"
	"github.com/fyrsmithlabs/cortexd/internal/vectorindex"
)

const (
	chatTimeout  = 120 * time.Second
	gateTimeout  = 60 * time.Second
	probeTimeout = 10 * time.Second
)

// app holds the wired service graph shared by the serve and mcp commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store *store.Store
	tools *mcp.Tools
	deps  httpapi.Deps
}

// buildApp loads configuration and wires every service.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	idx, err := vectorindex.Open(vectorindex.Options{
		Path:   cfg.Storage.VectorStorePath,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	chatClient, err := buildChatClient(cfg)
	if err != nil {
		return nil, err
	}

	var guard *gate.Guard
	if cfg.Gate.Active() {
		gateClient, err := llm.NewGroq(cfg.Gate.APIURL, cfg.Gate.APIKey.Value(), cfg.Gate.Model, gateTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to configure relevance gate: %w", err)
		}
		guard = gate.New(gateClient, cfg.Gate.Threshold, logger)
		logger.Info("relevance gate enabled", zap.String("model", cfg.Gate.Model))
	}

	cch := cache.New(cfg.Storage.CacheDir, logger)
	proj := projection.New(cfg.Projection, cfg.Storage.ModelDir, logger)
	summ := summarizer.New(chatClient, logger)
	ing := ingest.New(st, idx, cch, summ, embedder, proj, logger)
	search := retrieval.New(st, idx, embedder, guard, logger)
	tools := mcp.NewTools(search, st, logger)

	chatReady, embedderReady := probeProviders(chatClient, embedder, logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		tools:  tools,
		deps: httpapi.Deps{
			Store:              st,
			Index:              idx,
			Ingest:             ing,
			Search:             search,
			PromptGen:          promptgen.New(chatClient, logger),
			Cache:              cch,
			MCP:                mcp.NewHandler(tools, version, logger),
			Version:            version,
			ChatConfigured:     chatReady,
			EmbedderConfigured: embedderReady,
		},
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}

// probeProviders checks each external provider with one cheap call at
// startup. A failing provider leaves the server running but reported as
// degraded by the health endpoint.
func probeProviders(chat llm.Client, embedder embeddings.Embedder, logger *zap.Logger) (chatReady, embedderReady bool) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	chatReady = true
	if _, err := chat.Chat(ctx, []llm.Message{{Role: "user", Content: "ping"}},
		llm.Options{MaxTokens: 1, NoRetry: true}); err != nil {
		logger.Warn("chat provider probe failed", zap.Error(err))
		chatReady = false
	}

	embedderReady = true
	if _, err := embedder.EmbedQuery(ctx, "ping"); err != nil {
		logger.Warn("embedding provider probe failed", zap.Error(err))
		embedderReady = false
	}
	return chatReady, embedderReady
}

func buildEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	switch cfg.Embedding.Resolve() {
	case config.ProviderCloud:
		return embeddings.NewHuggingFace(cfg.Embedding.HFURL, cfg.Embedding.HFToken.Value())
	default:
		return embeddings.NewOllama(cfg.Ollama.BaseURL, cfg.Embedding.OllamaModel)
	}
}

func buildChatClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Chat.Resolve() {
	case config.ProviderCloud:
		return llm.NewGroq("", cfg.Chat.GroqAPIKey.Value(), cfg.Chat.GroqModel, chatTimeout)
	default:
		return llm.NewOllama(cfg.Ollama.BaseURL, cfg.Chat.OllamaModel, chatTimeout)
	}
}
