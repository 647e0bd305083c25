// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Provider Configuration
// =============================================================================

// ProviderType selects the adapter a ProviderConfig is built with.
type ProviderType string

const (
	TypeOpenAI     ProviderType = "openai"
	TypeAzure      ProviderType = "azure"
	TypeOpenRouter ProviderType = "openrouter"
	TypeDashScope  ProviderType = "dashscope"
	TypeBedrock    ProviderType = "bedrock"
	TypeOllama     ProviderType = "ollama"
	TypeLlamaCpp   ProviderType = "llamacpp"
)

// ProviderConfig describes one named provider entry.
//
// API keys resolve in order: APIKey literal, then the APIKeyEnv
// environment variable, then a Docker-style secret file at
// /run/secrets/<name>_api_key. Local adapters (ollama, llamacpp) need
// no key.
type ProviderConfig struct {
	Name       string       `yaml:"name"`
	Type       ProviderType `yaml:"type"`
	Model      string       `yaml:"model,omitempty"`
	BaseURL    string       `yaml:"base_url,omitempty"`
	APIVersion string       `yaml:"api_version,omitempty"`
	Region     string       `yaml:"region,omitempty"`
	APIKey     string       `yaml:"api_key,omitempty"`
	APIKeyEnv  string       `yaml:"api_key_env,omitempty"`

	// Retry overrides; zero values fall back to DefaultRetryPolicy.
	MaxNetworkRetries int           `yaml:"max_network_retries,omitempty"`
	InitialDelay      time.Duration `yaml:"initial_delay,omitempty"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling,omitempty"`

	// RequestsPerSecond throttles outbound calls; 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// secretsDir is a var so tests can redirect the secret-file fallback.
var secretsDir = "/run/secrets"

// ResolveAPIKey returns the provider's API key or a config/auth error.
func (c ProviderConfig) ResolveAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.APIKeyEnv)); v != "" {
			return v, nil
		}
	}
	secretPath := fmt.Sprintf("%s/%s_api_key", secretsDir, c.Name)
	if data, err := os.ReadFile(secretPath); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	return "", &ProviderError{
		Provider: c.Name,
		Kind:     KindAuth,
		Message:  fmt.Sprintf("no API key: set %q or mount %s", c.APIKeyEnv, secretPath),
	}
}

// retryPolicy builds the adapter's RetryPolicy from the config overrides.
func (c ProviderConfig) retryPolicy() *RetryPolicy {
	policy := DefaultRetryPolicy()
	if c.MaxNetworkRetries > 0 {
		policy.MaxNetworkRetries = c.MaxNetworkRetries
	}
	if c.InitialDelay > 0 {
		policy.InitialDelay = c.InitialDelay
	}
	if c.BackoffCeiling > 0 {
		policy.BackoffCeiling = c.BackoffCeiling
	}
	if c.RequestsPerSecond > 0 {
		policy.Limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
	}
	return policy
}

// validate checks the fields every adapter requires.
func (c ProviderConfig) validate() error {
	if c.Name == "" {
		return &ProviderError{Provider: "?", Kind: KindConfig, Message: "provider name is required"}
	}
	switch c.Type {
	case TypeOpenAI, TypeAzure, TypeOpenRouter, TypeDashScope, TypeBedrock, TypeOllama, TypeLlamaCpp:
		return nil
	case "":
		return &ProviderError{Provider: c.Name, Kind: KindConfig, Message: "provider type is required"}
	default:
		return &ProviderError{Provider: c.Name, Kind: KindConfig, Message: fmt.Sprintf("unknown provider type %q", c.Type)}
	}
}

// =============================================================================
// Registry Configuration
// =============================================================================

// RegistryConfig is the YAML document listing every configured provider.
type RegistryConfig struct {
	// Default names the provider used when a request carries none.
	Default string `yaml:"default"`

	Providers []ProviderConfig `yaml:"providers"`
}

// LoadRegistryConfig reads and validates a providers YAML file.
func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config %s: %w", path, err)
	}
	return ParseRegistryConfig(data)
}

// ParseRegistryConfig parses a providers YAML document.
func ParseRegistryConfig(data []byte) (*RegistryConfig, error) {
	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing provider config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, &ProviderError{Provider: "?", Kind: KindConfig, Message: "no providers configured"}
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, &ProviderError{Provider: p.Name, Kind: KindConfig, Message: "duplicate provider name"}
		}
		seen[p.Name] = true
	}
	if cfg.Default == "" {
		cfg.Default = cfg.Providers[0].Name
	} else if !seen[cfg.Default] {
		return nil, &ProviderError{Provider: cfg.Default, Kind: KindConfig, Message: "default provider is not configured"}
	}
	return &cfg, nil
}
