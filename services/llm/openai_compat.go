// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
)

var tracer = otel.Tracer("lantern.llm")

// =============================================================================
// OpenAI-Compatible Generator
// =============================================================================

// openAICompatGenerator implements Generator against any endpoint that
// speaks the OpenAI chat-completions protocol. OpenAI, Azure OpenAI,
// OpenRouter, DashScope, and Bedrock's OpenAI-compatible gateway all
// reuse this implementation behind their own constructors.
type openAICompatGenerator struct {
	client   *openai.Client
	provider string
	model    string
	retry    *RetryPolicy
}

// Compile-time interface implementation check.
var _ Generator = (*openAICompatGenerator)(nil)

func newOpenAICompat(client *openai.Client, provider, model string, retry *RetryPolicy) *openAICompatGenerator {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &openAICompatGenerator{
		client:   client,
		provider: provider,
		model:    model,
		retry:    retry,
	}
}

// normalizeOpenAIFinish maps a native finish reason to the three
// normalized values. Anything that is not an overflow counts as stop;
// error is only produced on the failure path.
func normalizeOpenAIFinish(fr openai.FinishReason) datatypes.FinishReason {
	if fr == openai.FinishReasonLength {
		return datatypes.FinishLength
	}
	return datatypes.FinishStop
}

func (g *openAICompatGenerator) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	model := g.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    strings.ToLower(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: apiMessages,
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// Chat implements Generator.
func (g *openAICompatGenerator) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "openAICompatGenerator.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.provider),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := g.buildRequest(messages, params, false)
	span.SetAttributes(attribute.String("llm.model", req.Model))

	var out *datatypes.GenerationResponse
	err := g.retry.Do(ctx, g.provider, func(ctx context.Context) error {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return classifyOpenAIError(g.provider, err)
		}
		if len(resp.Choices) == 0 {
			return &ProviderError{Provider: g.provider, Kind: KindOther, Message: "no choices returned"}
		}
		out = &datatypes.GenerationResponse{
			Content:      resp.Choices[0].Message.Content,
			FinishReason: normalizeOpenAIFinish(resp.Choices[0].FinishReason),
			Model:        resp.Model,
			Usage: datatypes.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
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

// ChatStream implements Generator.
//
// The stream is non-restartable: once a delta has been delivered to the
// callback, a later failure is surfaced without retry. Retries only
// apply to failures establishing the stream.
func (g *openAICompatGenerator) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (*datatypes.GenerationResponse, error) {
	ctx, span := tracer.Start(ctx, "openAICompatGenerator.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.provider),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := g.buildRequest(messages, params, true)
	span.SetAttributes(attribute.String("llm.model", req.Model))

	var (
		content strings.Builder
		finish  = datatypes.FinishStop
		usage   datatypes.TokenUsage
		emitted bool
		sinkErr error
	)

	err := g.retry.Do(ctx, g.provider, func(ctx context.Context) error {
		stream, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return classifyOpenAIError(g.provider, err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				classified := classifyOpenAIError(g.provider, err)
				if emitted {
					// Non-restartable past the first delta.
					return &ProviderError{
						Provider: g.provider,
						Kind:     KindOther,
						Message:  "stream interrupted: " + classified.Error(),
						Err:      classified,
					}
				}
				return classified
			}

			if chunk.Usage != nil {
				usage = datatypes.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = normalizeOpenAIFinish(choice.FinishReason)
			}
			if choice.Delta.Content == "" {
				continue
			}

			emitted = true
			content.WriteString(choice.Delta.Content)
			if cbErr := callback(StreamEvent{Content: choice.Delta.Content}); cbErr != nil {
				sinkErr = cbErr
				// Caller went away; stop pulling upstream tokens.
				return &ProviderError{Provider: g.provider, Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
			}
		}
	})
	if err != nil {
		if sinkErr != nil {
			slog.Debug("Stream aborted by caller", "provider", g.provider, "error", sinkErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		return nil, err
	}

	if cbErr := callback(StreamEvent{Done: true, FinishReason: finish}); cbErr != nil {
		return nil, &ProviderError{Provider: g.provider, Kind: KindCanceled, Message: cbErr.Error(), Err: cbErr}
	}

	span.SetAttributes(
		attribute.Int("llm.completion_tokens", usage.CompletionTokens),
		attribute.String("llm.finish_reason", string(finish)),
	)
	return &datatypes.GenerationResponse{
		Content:      content.String(),
		FinishReason: finish,
		Usage:        usage,
		Model:        req.Model,
	}, nil
}
