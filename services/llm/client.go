// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm unifies the supported generation providers behind one
// Generator interface with blocking and streaming calls.
//
// Adapters exist for OpenAI-compatible endpoints (OpenAI, Azure OpenAI,
// OpenRouter, DashScope, Bedrock's OpenAI-compatible gateway), Ollama,
// and local llama.cpp servers. All adapters:
//
//   - normalize the native finish reason to stop | length | error
//   - classify failures through the shared error taxonomy (errors.go)
//   - retry transient failures through the shared RetryPolicy (retry.go)
//   - stop consuming upstream tokens as soon as the context is canceled
package llm

import (
	"context"

	"github.com/lanternai/lantern/services/datatypes"
)

// GenerationParams carries provider-neutral sampling parameters.
// Nil pointers mean "use the adapter's default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// ModelOverride selects a non-default model for this call.
	ModelOverride string `json:"model_override,omitempty"`
}

// StreamEvent is one streamed fragment from a generator.
type StreamEvent struct {
	// Content is the text delta. May be empty on the final event.
	Content string

	// Done marks the final event of the stream.
	Done bool

	// FinishReason is set on the final event.
	FinishReason datatypes.FinishReason
}

// StreamCallback receives stream events in generation order. Returning an
// error aborts the stream; the adapter stops reading from the provider
// and releases the connection.
type StreamCallback func(event StreamEvent) error

// Generator is the single interface every provider adapter implements.
//
// # Contracts
//
//   - Chat and ChatStream honor ctx cancellation at every suspension
//     point; a canceled call returns ctx.Err() (possibly wrapped).
//   - ChatStream delivers deltas via callback as they arrive and returns
//     the finalized response (full content, normalized finish reason,
//     usage when reported). The stream is lazy, finite, and
//     non-restartable.
//   - Authentication and configuration failures return a *ProviderError
//     with a fatal kind and are never retried internally.
//
// # Thread Safety
//
// Implementations are safe for concurrent use; HTTP clients are pooled
// and shared across requests.
type Generator interface {
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*datatypes.GenerationResponse, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (*datatypes.GenerationResponse, error)
}
