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

// DashScope (Alibaba Cloud Model Studio) compatible-mode endpoint.
const dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// NewDashScopeGenerator creates a Generator against DashScope's
// OpenAI-compatible mode (Qwen model family).
func NewDashScopeGenerator(cfg ProviderConfig) (Generator, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = "qwen-plus"
		slog.Warn("DashScope model not configured, defaulting", "model", model)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = dashScopeBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing DashScope generator", "model", model)
	return newOpenAICompat(openai.NewClientWithConfig(clientCfg), cfg.Name, model, cfg.retryPolicy()), nil
}
