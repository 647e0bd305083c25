// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared across Lantern
// services: documents and retrieval results, conversation turns, generation
// requests and responses, and pipeline events.
//
// Types in this package are plain data. Behavior lives in the service
// packages that own the corresponding operations.
package datatypes

import "time"

// =============================================================================
// Roles and Messages
// =============================================================================

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ConversationTurn is one entry in a session's conversation memory.
// Turns are immutable once appended.
type ConversationTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// NewTurn creates a ConversationTurn stamped with the current time.
func NewTurn(role, content string) ConversationTurn {
	return ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Documents and Retrieval
// =============================================================================

// DocumentMeta carries source metadata for an indexed chunk.
type DocumentMeta struct {
	// FilePath is the repository-relative path of the source file.
	FilePath string `json:"file_path"`

	// FileType is the lowercase extension without the dot ("go", "md", ...).
	FileType string `json:"file_type"`
}

// Document is one embedded chunk owned by a repository's vector index.
type Document struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	Metadata  DocumentMeta `json:"metadata"`
	Embedding []float32    `json:"embedding,omitempty"`
}

// Dimension returns the embedding dimension, or 0 when unset.
func (d *Document) Dimension() int {
	return len(d.Embedding)
}

// ScoredDocument pairs a document with its similarity score for one query.
type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// RetrievalResult is the ranked output of a retrieval call.
//
// Documents are ordered strictly descending by score; ties keep the
// index insertion order.
type RetrievalResult struct {
	Query     string           `json:"query"`
	Documents []ScoredDocument `json:"documents"`
}

// SourceInfo is the caller-facing view of one retrieved source.
type SourceInfo struct {
	FilePath string  `json:"file_path"`
	Score    float64 `json:"score"`
}

// Sources projects a RetrievalResult into caller-facing source info.
func (r *RetrievalResult) Sources() []SourceInfo {
	sources := make([]SourceInfo, 0, len(r.Documents))
	for _, sd := range r.Documents {
		sources = append(sources, SourceInfo{
			FilePath: sd.Document.Metadata.FilePath,
			Score:    sd.Score,
		})
	}
	return sources
}

// =============================================================================
// Generation
// =============================================================================

// FinishReason is the normalized reason a provider stopped generating.
// Every adapter maps its native value onto one of these three.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// TokenUsage carries provider-reported token counters. Zero values mean
// the provider did not report usage.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// GenerationRequest selects a provider/model pair and carries the final
// assembled message list for one generation call.
type GenerationRequest struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// GenerationResponse is the finalized result of one generation call.
// When streaming, Content is the concatenation of all deltas.
type GenerationResponse struct {
	Content      string       `json:"content"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        TokenUsage   `json:"usage"`
	Model        string       `json:"model,omitempty"`
}
