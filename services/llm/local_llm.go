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

// LlamaCppGenerator implements Generator against a llama.cpp server's
// native /completion endpoint. Streaming consumes its SSE frames.
type LlamaCppGenerator struct {
	httpClient *http.Client
	baseURL    string
	model      string
	retry      *RetryPolicy
}

var _ Generator = (*LlamaCppGenerator)(nil)

type llamaCppRequest struct {
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	NPredict    int      `json:"n_predict,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type llamaCppChunk struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
}

// NewLlamaCppGenerator creates a llama.cpp-backed Generator.
// cfg.BaseURL is required (e.g. http://localhost:8080).
func NewLlamaCppGenerator(cfg ProviderConfig) (Generator, error) {
	if cfg.BaseURL == "" {
		return nil, &ProviderError{Provider: cfg.Name, Kind: KindConfig, Message: "llamacpp base_url is required"}
	}
	slog.Info("Initializing llama.cpp generator", "base_url", cfg.BaseURL)
	return &LlamaCppGenerator{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		retry:      cfg.retryPolicy(),
	}, nil
}

// flattenMessages renders a chat transcript as a single prompt. The
// server applies no chat template on /completion, so role tags keep the
// turns distinguishable.
func flattenMessages(messages []datatypes.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case datatypes.RoleSystem:
			b.WriteString("### System:\n")
		case datatypes.RoleAssistant:
			b.WriteString("### Assistant:\n")
		default:
			b.WriteString("### User:\n")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("### Assistant:\n")
	return b.String()
}

func (l *LlamaCppGenerator) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) llamaCppRequest {
	req := llamaCppRequest{
		Prompt:      flattenMessages(messages),
		Stream:      stream,
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}
	if params.MaxTokens != nil {
		req.NPredict = *params.MaxTokens
	}
	return req
}

func llamaCppFinish(chunk llamaCppChunk) datatypes.FinishReason {
	if chunk.StoppedLimit {
		return datatypes.FinishLength
	}
	return datatypes.FinishStop
}

func llamaCppUsage(chunk llamaCppChunk) datatypes.TokenUsage {
	return datatypes.TokenUsage{
		PromptTokens:     chunk.TokensEvaluated,
		CompletionTokens: chunk.TokensPredicted,
		TotalTokens:      chunk.TokensEvaluated + chunk.TokensPredicted,
	}
}

// Chat implements Generator.
func (l *LlamaCppGenerator) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "LlamaCppGenerator.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", "llamacpp"))

	payload := l.buildRequest(messages, params, false)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: err.Error(), Err: err}
	}

	var out *datatypes.GenerationResponse
	err = l.retry.Do(ctx, "llamacpp", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/completion", bytes.NewReader(reqBody))
		if err != nil {
			return &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: err.Error(), Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.httpClient.Do(req)
		if err != nil {
			return classifyHTTPError("llamacpp", 0, "", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return classifyHTTPError("llamacpp", 0, "", err)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyHTTPError("llamacpp", resp.StatusCode, string(body), nil)
		}

		var chunk llamaCppChunk
		if err := json.Unmarshal(body, &chunk); err != nil {
			return &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: "parsing response: " + err.Error(), Err: err}
		}
		out = &datatypes.GenerationResponse{
			Content:      chunk.Content,
			FinishReason: llamaCppFinish(chunk),
			Usage:        llamaCppUsage(chunk),
			Model:        l.model,
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

// ChatStream implements Generator over llama.cpp's SSE stream.
func (l *LlamaCppGenerator) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "LlamaCppGenerator.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", "llamacpp"))

	payload := l.buildRequest(messages, params, true)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: err.Error(), Err: err}
	}

	var (
		content strings.Builder
		finish  = datatypes.FinishStop
		usage   datatypes.TokenUsage
		emitted bool
	)

	err = l.retry.Do(ctx, "llamacpp", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/completion", bytes.NewReader(reqBody))
		if err != nil {
			return &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: err.Error(), Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := l.httpClient.Do(req)
		if err != nil {
			return classifyHTTPError("llamacpp", 0, "", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return classifyHTTPError("llamacpp", resp.StatusCode, string(body), nil)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var chunk llamaCppChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				slog.Warn("Skipping malformed llama.cpp stream frame", "error", err)
				continue
			}
			if chunk.Content != "" {
				emitted = true
				content.WriteString(chunk.Content)
				if cbErr := callback(StreamEvent{Content: chunk.Content}); cbErr != nil {
					return &ProviderError{Provider: "llamacpp", Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
				}
			}
			if chunk.Stop {
				finish = llamaCppFinish(chunk)
				usage = llamaCppUsage(chunk)
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			classified := classifyHTTPError("llamacpp", 0, "", err)
			if emitted {
				return &ProviderError{Provider: "llamacpp", Kind: KindOther, Message: "stream interrupted: " + classified.Error(), Err: classified}
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
		return nil, &ProviderError{Provider: "llamacpp", Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
	}
	return &datatypes.GenerationResponse{
		Content:      content.String(),
		FinishReason: finish,
		Usage:        usage,
		Model:        l.model,
	}, nil
}
