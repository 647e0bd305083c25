// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request types for the chat, RAG, and multi-repository
// pipelines, with validation via go-playground/validator.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message
	// content. Bounds request memory before any token accounting runs.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages accepted
	// in one chat request.
	MaxMessagesPerRequest = 100

	// MaxReposPerRequest bounds a multi-repository fan-out.
	MaxReposPerRequest = 16
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// requestValidate is the validator instance for request datatypes.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count, so oversized
// multi-byte payloads cannot slip under the limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is one conversational turn against a single repository.
//
// # Fields
//
//   - RequestId/Timestamp: audit identifiers; populated by EnsureDefaults
//     when empty.
//   - SessionId: conversation memory scope. Empty means a new session;
//     EnsureSessionId mints one.
//   - Repo: the repository to answer about. Must resolve to an indexed
//     or indexable corpus.
//   - Messages: conversation so far, last element the current user turn.
//   - Provider/Model: generator selection; empty uses the configured
//     default provider.
//   - FileScope: optional repository-relative path. When set, the raw
//     file content is injected alongside retrieval.
//   - IncludePaths/ExcludePaths: glob filters applied to retrieval.
//   - DeepResearch: explicit deep-research marker. The pipeline also
//     honors an in-message "[deep research]" marker and a continuation
//     flag carried by a live ResearchState.
type ChatRequest struct {
	RequestId string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64  `json:"timestamp"`
	SessionId string `json:"session_id,omitempty"`

	Repo     RepositoryContext `json:"repo" validate:"required"`
	Messages []Message         `json:"messages" validate:"required,min=1,max=100,dive"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	FileScope    string   `json:"file_scope,omitempty"`
	IncludePaths []string `json:"include_paths,omitempty"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`

	DeepResearch bool `json:"deep_research,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// EnsureDefaults populates RequestId and Timestamp when unset.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestId == "" {
		r.RequestId = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// EnsureSessionId returns the session id, minting one when empty.
func (r *ChatRequest) EnsureSessionId() string {
	if r.SessionId == "" {
		r.SessionId = "sess_" + uuid.NewString()
	}
	return r.SessionId
}

// Validate checks structural validity. Token-budget validation happens
// later in the pipeline where the provider ceiling is known.
func (r *ChatRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	for i, m := range r.Messages {
		if len(m.Content) > MaxMessageContentBytes {
			return fmt.Errorf("message %d exceeds %d bytes", i, MaxMessageContentBytes)
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message content, or "".
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// =============================================================================
// RAG Request
// =============================================================================

// RagRequest is the non-conversational single-shot variant: one query,
// one answer, no streaming.
type RagRequest struct {
	RequestId string            `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64             `json:"timestamp"`
	SessionId string            `json:"session_id,omitempty"`
	Repo      RepositoryContext `json:"repo" validate:"required"`
	Query     string            `json:"query" validate:"required,maxbytes"`
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	TopK      int               `json:"top_k,omitempty"`
}

// EnsureDefaults populates RequestId and Timestamp when unset.
func (r *RagRequest) EnsureDefaults() {
	if r.RequestId == "" {
		r.RequestId = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// Validate checks structural validity.
func (r *RagRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid rag request: %w", err)
	}
	return nil
}

// RagResponse is the single-shot answer with its sources.
type RagResponse struct {
	Id        string       `json:"id"`
	Answer    string       `json:"answer"`
	Sources   []SourceInfo `json:"sources"`
	SessionId string       `json:"session_id"`
	Usage     TokenUsage   `json:"usage"`
	Degraded  bool         `json:"degraded,omitempty"`
	CreatedAt int64        `json:"created_at"`
}

// NewRagResponse builds a response with id and timestamp populated.
func NewRagResponse(answer, sessionId string, sources []SourceInfo) *RagResponse {
	return &RagResponse{
		Id:        uuid.NewString(),
		Answer:    answer,
		Sources:   sources,
		SessionId: sessionId,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Multi-Repository Request
// =============================================================================

// MultiRepoRequest fans one query out across several repositories.
type MultiRepoRequest struct {
	RequestId string              `json:"request_id" validate:"omitempty,uuid4"`
	Query     string              `json:"query" validate:"required,maxbytes"`
	Repos     []RepositoryContext `json:"repos" validate:"required,min=1,max=16,dive"`
	Provider  string              `json:"provider,omitempty"`
	Model     string              `json:"model,omitempty"`
}

// Validate checks structural validity.
func (r *MultiRepoRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid multi-repo request: %w", err)
	}
	return nil
}
