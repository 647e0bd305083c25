// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
)

// OllamaGenerator implements Generator against a local Ollama server.
// Streaming uses Ollama's native NDJSON chat stream.
type OllamaGenerator struct {
	httpClient *http.Client
	baseURL    string
	model      string
	retry      *RetryPolicy
}

var _ Generator = (*OllamaGenerator)(nil)

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []datatypes.Message    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message    datatypes.Message `json:"message"`
	Done       bool              `json:"done"`
	DoneReason string            `json:"done_reason,omitempty"`
	PromptEval int               `json:"prompt_eval_count,omitempty"`
	EvalCount  int               `json:"eval_count,omitempty"`
}

// NewOllamaGenerator creates an Ollama-backed Generator. cfg.BaseURL is
// required (e.g. http://localhost:11434).
func NewOllamaGenerator(cfg ProviderConfig) (Generator, error) {
	if cfg.BaseURL == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "ollama base_url is required"}
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
		slog.Warn("Ollama model not configured, defaulting", "model", model)
	}
	slog.Info("Initializing Ollama generator", "base_url", cfg.BaseURL, "model", model)
	return &OllamaGenerator{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      model,
		retry:      cfg.retryPolicy(),
	}, nil
}

func (o *OllamaGenerator) buildOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	} else {
		options["temperature"] = float32(0.2)
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func normalizeOllamaFinish(doneReason string) datatypes.FinishReason {
	switch strings.ToLower(doneReason) {
	case "length", "limit":
		return datatypes.FinishLength
	default:
		return datatypes.FinishStop
	}
}

func (o *OllamaGenerator) resolveModel(params GenerationParams) string {
	if params.ModelOverride != "" {
		return params.ModelOverride
	}
	return o.model
}

// Chat implements Generator.
func (o *OllamaGenerator) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "OllamaGenerator.Chat")
	defer span.End()
	model := o.resolveModel(params)
	span.SetAttributes(attribute.String("llm.model", model))

	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  o.buildOptions(params),
	}

	var out *datatypes.GenerationResponse
	err := o.retry.Do(ctx, "ollama", func(ctx context.Context) error {
		body, err := o.post(ctx, "/api/chat", payload)
		if err != nil {
			return err
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(body, &chunk); err != nil {
			return &ProviderError{Provider: "ollama", Kind: KindOther, Message: "parsing response: " + err.Error(), Err: err}
		}
		out = &datatypes.GenerationResponse{
			Content:      chunk.Message.Content,
			FinishReason: normalizeOllamaFinish(chunk.DoneReason),
			Model:        model,
			Usage: datatypes.TokenUsage{
				PromptTokens:     chunk.PromptEval,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEval + chunk.EvalCount,
			},
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}
	return out, nil
}

// ChatStream implements Generator using Ollama's NDJSON stream.
func (o *OllamaGenerator) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "OllamaGenerator.ChatStream")
	defer span.End()
	model := o.resolveModel(params)
	span.SetAttributes(attribute.String("llm.model", model))

	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  o.buildOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Kind: KindOther, Message: err.Error(), Err: err}
	}

	var (
		content strings.Builder
		finish  = datatypes.FinishStop
		usage   datatypes.TokenUsage
		emitted bool
	)

	err = o.retry.Do(ctx, "ollama", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
		if err != nil {
			return &ProviderError{Provider: "ollama", Kind: KindOther, Message: err.Error(), Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(req)
		if err != nil {
			return classifyHTTPError("ollama", 0, "", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return classifyHTTPError("ollama", resp.StatusCode, string(body), nil)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				slog.Warn("Skipping malformed Ollama stream line", "error", err)
				continue
			}
			if chunk.Message.Content != "" {
				emitted = true
				content.WriteString(chunk.Message.Content)
				if cbErr := callback(StreamEvent{Content: chunk.Message.Content}); cbErr != nil {
					return &ProviderError{Provider: "ollama", Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
				}
			}
			if chunk.Done {
				finish = normalizeOllamaFinish(chunk.DoneReason)
				usage = datatypes.TokenUsage{
					PromptTokens:     chunk.PromptEval,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEval + chunk.EvalCount,
				}
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			classified := classifyHTTPError("ollama", 0, "", err)
			if emitted {
				return &ProviderError{Provider: "ollama", Kind: KindOther, Message: "stream interrupted: " + classified.Error(), Err: classified}
			}
			return classified
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		return nil, err
	}

	if cbErr := callback(StreamEvent{Done: true, FinishReason: finish}); cbErr != nil {
		return nil, &ProviderError{Provider: "ollama", Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
	}
	return &datatypes.GenerationResponse{
		Content:      content.String(),
		FinishReason: finish,
		Usage:        usage,
		Model:        model,
	}, nil
}

// post sends a JSON payload and returns the raw response body.
func (o *OllamaGenerator) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Kind: KindOther, Message: err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Kind: KindOther, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError("ollama", 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyHTTPError("ollama", 0, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("ollama", resp.StatusCode, string(body), nil)
	}
	return body, nil
}
