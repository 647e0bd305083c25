// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/index"
	"github.com/lanternai/lantern/services/llm"
	"github.com/lanternai/lantern/services/memory"
	"github.com/lanternai/lantern/services/multirepo"
	"github.com/lanternai/lantern/services/pipeline"
	"github.com/lanternai/lantern/services/research"
	"github.com/lanternai/lantern/services/retriever"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type stubGenerator struct {
	answer string
	err    error
}

func (s *stubGenerator) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (*datatypes.GenerationResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &datatypes.GenerationResponse{
		Content:      s.answer,
		FinishReason: datatypes.FinishStop,
		Usage:        datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubGenerator) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) (*datatypes.GenerationResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, word := range strings.SplitAfter(s.answer, " ") {
		if err := callback(llm.StreamEvent{Content: word}); err != nil {
			return nil, err
		}
	}
	if err := callback(llm.StreamEvent{Done: true, FinishReason: datatypes.FinishStop}); err != nil {
		return nil, err
	}
	return &datatypes.GenerationResponse{
		Content:      s.answer,
		FinishReason: datatypes.FinishStop,
		Usage:        datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

type stubResolver struct {
	gen llm.Generator
}

func (s *stubResolver) Get(name string) (llm.Generator, error) { return s.gen, nil }
func (s *stubResolver) DefaultProvider() string                { return "stub" }
func (s *stubResolver) Names() []string                        { return []string{"stub", "backup"} }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Model() string { return "stub-embed" }

type stubFactory struct {
	r *retriever.Retriever
}

func (s *stubFactory) ForRepo(ctx context.Context, repo datatypes.RepositoryContext) (*retriever.Retriever, error) {
	return s.r, nil
}

// =============================================================================
// Fixtures
// =============================================================================

func serverRepo() datatypes.RepositoryContext {
	return datatypes.RepositoryContext{Owner: "acme", Repo: "widget", Platform: "github"}
}

func seededFactory(t *testing.T) *stubFactory {
	t.Helper()
	ix, err := index.NewLocalIndex(2)
	require.NoError(t, err)
	docs := []datatypes.Document{
		{
			ID:        "doc-0",
			Content:   "func Spin() starts the widget",
			Metadata:  datatypes.DocumentMeta{FilePath: "widget.go", FileType: "go"},
			Embedding: []float32{1, 0},
		},
		{
			ID:        "doc-1",
			Content:   "configuration lives in config.yaml",
			Metadata:  datatypes.DocumentMeta{FilePath: "docs/config.md", FileType: "markdown"},
			Embedding: []float32{0.9, 0.1},
		},
	}
	_, err = ix.Add(context.Background(), docs)
	require.NoError(t, err)
	return &stubFactory{r: retriever.New(serverRepo(), ix, stubEmbedder{})}
}

func newTestServer(t *testing.T, answer string) (*Server, *memory.Store) {
	t.Helper()
	resolver := &stubResolver{gen: &stubGenerator{answer: answer}}
	factory := seededFactory(t)
	mem := memory.NewStore(10)

	chat := pipeline.NewChatPipeline(resolver, factory, mem, nil, nil, pipeline.Config{})
	rag := pipeline.NewRagPipeline(resolver, factory, nil, pipeline.Config{})
	rc := research.NewController(chat, 3)
	multi := multirepo.NewCoordinator(rag, multirepo.Config{MaxConcurrency: 2})

	srv := New(chat, rag, rc, multi, mem, resolver)
	srv.keepAliveInterval = time.Hour // quiet during tests
	return srv, mem
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// sseEvent is one parsed frame from an event-stream body.
type sseEvent struct {
	name string
	data datatypes.PipelineEvent
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

// =============================================================================
// Health and Providers
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProvidersEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Default   string   `json:"default"`
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub", resp.Default)
	assert.Contains(t, resp.Providers, "backup")
}

// =============================================================================
// Streaming Chat
// =============================================================================

func TestChatStream_EventContract(t *testing.T) {
	srv, _ := newTestServer(t, "the widget spins")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/chat/stream", datatypes.ChatRequest{
		Repo:     serverRepo(),
		Messages: []datatypes.Message{{Role: datatypes.RoleUser, Content: "how does the widget work?"}},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)

	var sawSources, sawDone bool
	var streamed strings.Builder
	for _, e := range events {
		assert.NotEmpty(t, e.data.Id)
		assert.NotZero(t, e.data.CreatedAt)
		switch e.data.Type {
		case datatypes.EventSources:
			sawSources = true
			assert.NotEmpty(t, e.data.Sources)
		case datatypes.EventDelta:
			streamed.WriteString(e.data.Content)
		case datatypes.EventDone:
			sawDone = true
			assert.NotEmpty(t, e.data.SessionId)
		case datatypes.EventError:
			t.Fatalf("unexpected error event: %s", e.data.Error)
		}
	}
	assert.True(t, sawSources)
	assert.True(t, sawDone)
	assert.Equal(t, "the widget spins", streamed.String())
	assert.Equal(t, string(datatypes.EventDone), events[len(events)-1].name)
}

func TestChatStream_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStream_ValidationFailureStreamsError(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	// Repo present but no messages.
	rec := postJSON(t, router, "/v1/chat/stream", datatypes.ChatRequest{Repo: serverRepo()})

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, datatypes.EventError, events[len(events)-1].data.Type)
	assert.NotEmpty(t, events[len(events)-1].data.Error)
}

func TestChatStream_DeepResearchRunsIterations(t *testing.T) {
	// The stub always answers without a continuation marker, so research
	// concludes after one iteration; the stream still carries the
	// iteration progress event.
	srv, _ := newTestServer(t, "researched answer")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/chat/stream", datatypes.ChatRequest{
		Repo:         serverRepo(),
		Messages:     []datatypes.Message{{Role: datatypes.RoleUser, Content: "map the auth flow"}},
		DeepResearch: true,
	})

	events := parseSSE(t, rec.Body.String())
	var sawIteration bool
	for _, e := range events {
		if e.data.Type == datatypes.EventProgress && strings.Contains(e.data.Message, "research iteration") {
			sawIteration = true
		}
	}
	assert.True(t, sawIteration)
}

// =============================================================================
// Single-Shot RAG
// =============================================================================

func TestRagEndpoint_Success(t *testing.T) {
	srv, _ := newTestServer(t, "config lives in config.yaml")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/rag", datatypes.RagRequest{
		Repo:  serverRepo(),
		Query: "where is the config?",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.RagResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "config lives in config.yaml", resp.Answer)
	assert.NotEmpty(t, resp.Sources)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestRagEndpoint_ValidationError(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/rag", datatypes.RagRequest{Repo: serverRepo()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Multi-Repository Fan-Out
// =============================================================================

func TestMultiRepoEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "shared answer")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/multirepo", datatypes.MultiRepoRequest{
		Query: "where is the rate limiter?",
		Repos: []datatypes.RepositoryContext{
			{Owner: "acme", Repo: "svc-a", Platform: "github"},
			{Owner: "acme", Repo: "svc-b", Platform: "github"},
		},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var merged multirepo.MergedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &merged))
	assert.Equal(t, 2, merged.Successful)
	assert.Zero(t, merged.Failed)
	require.Len(t, merged.Results, 2)
	assert.Equal(t, "acme/svc-a", merged.Results[0].Repo.Slug())
}

func TestMultiRepoEndpoint_NoRepos(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	rec := postJSON(t, router, "/v1/multirepo", datatypes.MultiRepoRequest{Query: "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Session Administration
// =============================================================================

func TestSessionEndpoints(t *testing.T) {
	srv, mem := newTestServer(t, "ok")
	router := srv.Router()

	require.NoError(t, mem.Append("sess_a", datatypes.NewTurn(datatypes.RoleUser, "question")))
	require.NoError(t, mem.Append("sess_a", datatypes.NewTurn(datatypes.RoleAssistant, "answer")))

	// List.
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess_a")

	// History.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_a/history", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		SessionId string                      `json:"session_id"`
		Turns     []datatypes.ConversationTurn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "question", hist.Turns[0].Content)

	// History with a bad limit.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_a/history?limit=nope", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Delete.
	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess_a", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, mem.Len("sess_a"))
}

// =============================================================================
// Error Mapping
// =============================================================================

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&pipeline.ValidationError{Err: fmt.Errorf("bad")}, http.StatusBadRequest},
		{&pipeline.TimeoutError{Stage: "generating", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&pipeline.GenerationError{Provider: "stub", Err: fmt.Errorf("down")}, http.StatusBadGateway},
		{fmt.Errorf("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusForError(tc.err))
	}
}
