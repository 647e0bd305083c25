// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"sync"
)

// =============================================================================
// Provider Registry
// =============================================================================

// Registry resolves provider names to Generator instances.
//
// # Description
//
// Adapters are constructed lazily on first Get and cached, so a
// configured-but-unused provider with a missing API key does not fail
// startup. Construction errors are cached too; a provider that failed
// to build keeps failing fast until the process restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	configs    map[string]ProviderConfig
	generators map[string]Generator
	failures   map[string]error
	defaultNm  string
}

// NewRegistry builds a Registry from a validated RegistryConfig.
func NewRegistry(cfg *RegistryConfig) *Registry {
	configs := make(map[string]ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		configs[p.Name] = p
	}
	slog.Info("Provider registry configured",
		"providers", len(configs),
		"default", cfg.Default,
	)
	return &Registry{
		configs:    configs,
		generators: make(map[string]Generator, len(configs)),
		failures:   make(map[string]error),
		defaultNm:  cfg.Default,
	}
}

// DefaultProvider returns the name used when a request carries none.
func (r *Registry) DefaultProvider() string { return r.defaultNm }

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Get returns the Generator for name, constructing it on first use.
// An empty name resolves to the default provider.
func (r *Registry) Get(name string) (Generator, error) {
	if name == "" {
		name = r.defaultNm
	}

	r.mu.RLock()
	if gen, ok := r.generators[name]; ok {
		r.mu.RUnlock()
		return gen, nil
	}
	if err, ok := r.failures[name]; ok {
		r.mu.RUnlock()
		return nil, err
	}
	cfg, ok := r.configs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ProviderError{Provider: name, Kind: KindConfig, Message: "provider is not configured"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen, ok := r.generators[name]; ok {
		return gen, nil
	}
	if err, ok := r.failures[name]; ok {
		return nil, err
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		slog.Error("Provider construction failed", "provider", name, "error", err)
		r.failures[name] = err
		return nil, err
	}
	r.generators[name] = gen
	return gen, nil
}

// buildGenerator dispatches on the configured adapter type.
func buildGenerator(cfg ProviderConfig) (Generator, error) {
	switch cfg.Type {
	case TypeOpenAI:
		return NewOpenAIGenerator(cfg)
	case TypeAzure:
		return NewAzureGenerator(cfg)
	case TypeOpenRouter:
		return NewOpenRouterGenerator(cfg)
	case TypeDashScope:
		return NewDashScopeGenerator(cfg)
	case TypeBedrock:
		return NewBedrockGenerator(cfg)
	case TypeOllama:
		return NewOllamaGenerator(cfg)
	case TypeLlamaCpp:
		return NewLlamaCppGenerator(cfg)
	default:
		return nil, &ProviderError{
			Provider: cfg.Name,
			Kind:     KindConfig,
			Message:  fmt.Sprintf("unknown provider type %q", cfg.Type),
		}
	}
}
