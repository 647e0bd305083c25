// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// NewOpenAIGenerator creates a Generator against api.openai.com, or any
// OpenAI-compatible endpoint when cfg.BaseURL is set.
func NewOpenAIGenerator(cfg ProviderConfig) (Generator, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not configured, defaulting", "model", model)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI generator", "model", model, "base_url", clientCfg.BaseURL)
	return newOpenAICompat(openai.NewClientWithConfig(clientCfg), cfg.Name, model, cfg.retryPolicy()), nil
}
