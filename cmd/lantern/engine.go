// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanternai/lantern/services/corpus"
	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/index"
	"github.com/lanternai/lantern/services/llm"
	"github.com/lanternai/lantern/services/memory"
	"github.com/lanternai/lantern/services/pipeline"
	"github.com/lanternai/lantern/services/retriever"
)

// engine bundles the assembled core components shared by the serve and
// ask commands.
type engine struct {
	registry *llm.Registry
	embedder retriever.EmbeddingProvider
	builder  *corpus.Builder
	factory  *corpus.RetrieverFactory
	memory   *memory.Store
	chat     *pipeline.ChatPipeline
	rag      *pipeline.RagPipeline
}

// buildEngine wires the registry, embedder, corpus builder, memory, and
// pipelines from flags and environment.
func buildEngine(metrics pipeline.Metrics) (*engine, error) {
	registryCfg, err := loadRegistryConfig()
	if err != nil {
		return nil, err
	}
	registry := llm.NewRegistry(registryCfg)

	embedder, err := buildEmbedder()
	if err != nil {
		return nil, err
	}

	builder := corpus.NewBuilder(corpus.DirLoader{}, embedder, expandHome(cacheDir))
	if err := configureIndexBackend(builder); err != nil {
		return nil, err
	}
	factory := corpus.NewRetrieverFactory(builder, embedder)

	mem := memory.NewStore(envInt("LANTERN_MAX_TURNS", memory.DefaultMaxTurns))
	if sessionDir := os.Getenv("LANTERN_SESSION_DIR"); sessionDir != "" {
		persister, perr := memory.NewPersister(expandHome(sessionDir))
		if perr != nil {
			return nil, perr
		}
		if _, perr := mem.WithPersistence(persister); perr != nil {
			return nil, perr
		}
	}

	cfg := pipeline.Config{
		MaxPromptTokens: envInt("LANTERN_MAX_PROMPT_TOKENS", 0),
		MaxHistoryTurns: envInt("LANTERN_MAX_HISTORY_TURNS", 0),
		TopK:            envInt("LANTERN_TOP_K", 0),
	}

	return &engine{
		registry: registry,
		embedder: embedder,
		builder:  builder,
		factory:  factory,
		memory:   mem,
		chat:     pipeline.NewChatPipeline(registry, factory, mem, nil, metrics, cfg),
		rag:      pipeline.NewRagPipeline(registry, factory, metrics, cfg),
	}, nil
}

// configureIndexBackend installs the remote index factory when
// LANTERN_INDEX_BACKEND selects one. The default is the local JSON
// cache.
func configureIndexBackend(builder *corpus.Builder) error {
	switch backend := envStr("LANTERN_INDEX_BACKEND", "local"); backend {
	case "local":
		return nil
	case "weaviate":
		host := envStr("LANTERN_WEAVIATE_HOST", "localhost:8080")
		scheme := envStr("LANTERN_WEAVIATE_SCHEME", "http")
		dimension := envInt("LANTERN_EMBED_DIM", 768)
		builder.WithRemoteIndex(func(repo datatypes.RepositoryContext, fingerprint string) (index.Store, error) {
			return index.NewWeaviateIndex(host, scheme, fingerprint, dimension)
		})
		return nil
	default:
		return fmt.Errorf("unknown index backend %q (want local or weaviate)", backend)
	}
}

// loadRegistryConfig reads the providers YAML, falling back to a single
// Ollama provider configured from the environment.
func loadRegistryConfig() (*llm.RegistryConfig, error) {
	if providerFile != "" {
		return llm.LoadRegistryConfig(expandHome(providerFile))
	}
	return &llm.RegistryConfig{
		Default: "ollama",
		Providers: []llm.ProviderConfig{{
			Name:    "ollama",
			Type:    llm.TypeOllama,
			BaseURL: envStr("LANTERN_OLLAMA_URL", "http://localhost:11434"),
			Model:   envStr("LANTERN_OLLAMA_MODEL", "llama3.1"),
		}},
	}, nil
}

// buildEmbedder picks the embedding provider from LANTERN_EMBEDDER.
func buildEmbedder() (retriever.EmbeddingProvider, error) {
	switch backend := envStr("LANTERN_EMBEDDER", "ollama"); backend {
	case "ollama":
		return retriever.NewOllamaEmbedder(
			envStr("LANTERN_OLLAMA_URL", "http://localhost:11434"),
			envStr("LANTERN_EMBED_MODEL", ""),
		), nil
	case "openai":
		apiKey := envStr("LANTERN_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder requires LANTERN_OPENAI_API_KEY or OPENAI_API_KEY")
		}
		return retriever.NewOpenAIEmbedder(
			apiKey,
			envStr("LANTERN_OPENAI_BASE_URL", ""),
			envStr("LANTERN_EMBED_MODEL", ""),
		), nil
	default:
		return nil, fmt.Errorf("unknown embedder backend %q (want ollama or openai)", backend)
	}
}

// expandHome expands a leading ~ so flag defaults like ~/.lantern/cache
// work without shell interpolation.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
