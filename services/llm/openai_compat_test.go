// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
)

func newCompatTestServer(t *testing.T, handler http.HandlerFunc) Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gen, err := NewOpenAIGenerator(ProviderConfig{
		Name:         "openai",
		APIKey:       "sk-test",
		Model:        "gpt-4o-mini",
		BaseURL:      srv.URL + "/v1",
		InitialDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return gen
}

func TestOpenAICompatChat(t *testing.T) {
	gen := newCompatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 1, "total_tokens": 10}
		}`)
	})

	resp, err := gen.Chat(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
	}, GenerationParams{})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, datatypes.FinishStop, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOpenAICompatChat_TokenLimit(t *testing.T) {
	gen := newCompatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "This model's maximum context length is 128000 tokens.", "type": "invalid_request_error", "code": "context_length_exceeded"}}`)
	})

	_, err := gen.Chat(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "enormous prompt"},
	}, GenerationParams{})

	require.Error(t, err)
	assert.True(t, IsTokenLimit(err))
}

func TestOpenAICompatChat_AuthError(t *testing.T) {
	gen := newCompatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Incorrect API key provided.", "type": "invalid_request_error"}}`)
	})

	_, err := gen.Chat(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
	}, GenerationParams{})

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestOpenAICompatChatStream(t *testing.T) {
	gen := newCompatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"length\"}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	var finish datatypes.FinishReason
	resp, err := gen.ChatStream(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Done {
			finish = event.FinishReason
			return nil
		}
		deltas = append(deltas, event.Content)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"he", "llo"}, deltas)
	assert.Equal(t, datatypes.FinishLength, finish)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, datatypes.FinishLength, resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestNormalizeOpenAIFinish(t *testing.T) {
	assert.Equal(t, datatypes.FinishLength, normalizeOpenAIFinish(openai.FinishReasonLength))
	assert.Equal(t, datatypes.FinishStop, normalizeOpenAIFinish(openai.FinishReasonStop))
	assert.Equal(t, datatypes.FinishStop, normalizeOpenAIFinish(openai.FinishReasonNull))
}
