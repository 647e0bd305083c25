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

// NewAzureGenerator creates a Generator against an Azure OpenAI
// deployment. cfg.BaseURL is the resource endpoint
// (https://<resource>.openai.azure.com) and cfg.Model the deployment name.
func NewAzureGenerator(cfg ProviderConfig) (Generator, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "azure endpoint (base_url) is required"}
	}
	if cfg.Model == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "azure deployment name (model) is required"}
	}

	clientCfg := openai.DefaultAzureConfig(apiKey, cfg.BaseURL)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}

	slog.Info("Initializing Azure OpenAI generator", "deployment", cfg.Model, "endpoint", cfg.BaseURL)
	return newOpenAICompat(openai.NewClientWithConfig(clientCfg), cfg.Name, cfg.Model, cfg.retryPolicy()), nil
}
