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

	openai "github.com/sashabaranov/go-openai"
)

// NewBedrockGenerator creates a Generator against Amazon Bedrock's
// OpenAI-compatible gateway, authenticated with a Bedrock API key.
//
// cfg.Region selects the runtime endpoint; cfg.BaseURL overrides it for
// private gateways.
func NewBedrockGenerator(cfg ProviderConfig) (Generator, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "bedrock model id is required"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
			slog.Warn("Bedrock region not configured, defaulting", "region", region)
		}
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/openai/v1", region)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL

	slog.Info("Initializing Bedrock generator", "model", model, "base_url", baseURL)
	return newOpenAICompat(openai.NewClientWithConfig(clientCfg), cfg.Name, model, cfg.retryPolicy()), nil
}
