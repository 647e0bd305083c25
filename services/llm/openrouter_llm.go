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

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterGenerator creates a Generator against OpenRouter's
// OpenAI-compatible API.
func NewOpenRouterGenerator(cfg ProviderConfig) (Generator, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "openrouter model is required (e.g. anthropic/claude-sonnet-4)"}
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = openRouterBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenRouter generator", "model", model)
	return newOpenAICompat(openai.NewClientWithConfig(clientCfg), cfg.Name, model, cfg.retryPolicy()), nil
}
