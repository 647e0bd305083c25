// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retriever turns a natural-language query into ranked document
// context for one repository: embed the query, search the repository's
// vector index, filter by path scope.
package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lantern.retriever")

// =============================================================================
// Embedding Providers
// =============================================================================

// EmbeddingProvider produces vector embeddings for text.
type EmbeddingProvider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the embedding model; it participates in the
	// repository index fingerprint.
	Model() string
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API (or any
// compatible endpoint).
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

var _ EmbeddingProvider = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. An empty model defaults to
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("Initializing OpenAI embedder", "model", model)
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed implements EmbeddingProvider.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements EmbeddingProvider.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEmbedder.EmbedBatch")
	defer span.End()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// OllamaEmbedder embeds text through a local Ollama server.
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

var _ EmbeddingProvider = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder against baseURL
// (e.g. http://localhost:11434). An empty model defaults to
// nomic-embed-text.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	slog.Info("Initializing Ollama embedder", "base_url", baseURL, "model", model)
	return &OllamaEmbedder{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}
}

func (e *OllamaEmbedder) Model() string { return e.model }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements EmbeddingProvider.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OllamaEmbedder.Embed")
	defer span.End()

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embeddings: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("ollama embeddings: parsing response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings: empty embedding returned")
	}
	return parsed.Embedding, nil
}

// EmbedBatch implements EmbeddingProvider. Ollama's embeddings endpoint
// is single-input, so the batch is issued sequentially.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding input %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
