// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs the conversational and single-shot RAG flows:
// validate the request, retrieve context, assemble the prompt, stream
// the generation, and update conversation memory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/llm"
	"github.com/lanternai/lantern/services/memory"
	"github.com/lanternai/lantern/services/retriever"
)

var tracer = otel.Tracer("lantern.pipeline")

// =============================================================================
// Configuration
// =============================================================================

// TrimOrder decides what the token-budget trimmer sacrifices first.
type TrimOrder string

const (
	// DocumentsFirst drops retrieved context before conversation turns.
	// This is the default: history carries the thread of the dialog.
	DocumentsFirst TrimOrder = "documents_first"

	// TurnsFirst drops old conversation turns before retrieved context.
	TurnsFirst TrimOrder = "turns_first"
)

// Config tunes the pipelines. The zero value gets sensible defaults.
type Config struct {
	// MaxPromptTokens is the prompt budget enforced before calling the
	// provider. Default 8000.
	MaxPromptTokens int

	// TrimOrder picks the trim strategy. Default DocumentsFirst.
	TrimOrder TrimOrder

	// MaxHistoryTurns bounds the conversation turns folded into a
	// prompt. Default 20.
	MaxHistoryTurns int

	// TopK is the retrieval depth. Default retriever.DefaultTopK.
	TopK int
}

func (c Config) withDefaults() Config {
	if c.MaxPromptTokens <= 0 {
		c.MaxPromptTokens = 8000
	}
	if c.TrimOrder == "" {
		c.TrimOrder = DocumentsFirst
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 20
	}
	if c.TopK <= 0 {
		c.TopK = retriever.DefaultTopK
	}
	return c
}

// =============================================================================
// Collaborator Contracts
// =============================================================================

// GeneratorResolver resolves a provider name to a Generator. Satisfied
// by *llm.Registry.
type GeneratorResolver interface {
	Get(name string) (llm.Generator, error)
	DefaultProvider() string
}

// RetrieverFactory yields a ready retriever for a repository, building
// or loading its index as needed.
type RetrieverFactory interface {
	ForRepo(ctx context.Context, repo datatypes.RepositoryContext) (*retriever.Retriever, error)
}

// FileReader resolves a file-scope directive to raw file content.
type FileReader func(repo datatypes.RepositoryContext, path string) (string, error)

// LocalFileReader reads file scope from the repository's working tree.
// Paths escaping the tree are rejected.
func LocalFileReader(repo datatypes.RepositoryContext, path string) (string, error) {
	if repo.LocalPath == "" {
		return "", fmt.Errorf("repository %s has no local path", repo.Slug())
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("file scope %q escapes the repository", path)
	}
	data, err := os.ReadFile(filepath.Join(repo.LocalPath, clean))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Metrics receives pipeline outcomes. Nil is a valid no-op.
type Metrics interface {
	PipelineStarted(kind string)
	PipelineFinished(kind, outcome string, seconds float64)
	FallbackTriggered()
	RecordTokens(promptTokens, completionTokens int)
}

// =============================================================================
// Chat Pipeline
// =============================================================================

// researchMarker triggers deep research from inside a message.
const researchMarker = "[deep research]"

// Result is the finalized outcome of one pipeline run.
type Result struct {
	Answer    string
	Sources   []datatypes.SourceInfo
	SessionId string
	Usage     datatypes.TokenUsage

	// Degraded is set when retrieval failed and the answer proceeded
	// without repository context.
	Degraded bool

	// ResearchMode is set when the run executed as a deep-research turn.
	ResearchMode bool
}

// ChatPipeline executes conversational turns.
//
// # Thread Safety
//
// Safe for concurrent use; per-run state lives on the stack.
type ChatPipeline struct {
	generators GeneratorResolver
	retrievers RetrieverFactory
	memory     *memory.Store
	files      FileReader
	estimator  *Estimator
	metrics    Metrics
	cfg        Config
}

// NewChatPipeline wires a pipeline. files may be nil (LocalFileReader),
// metrics may be nil.
func NewChatPipeline(generators GeneratorResolver, retrievers RetrieverFactory, mem *memory.Store, files FileReader, metrics Metrics, cfg Config) *ChatPipeline {
	if files == nil {
		files = LocalFileReader
	}
	return &ChatPipeline{
		generators: generators,
		retrievers: retrievers,
		memory:     mem,
		files:      files,
		estimator:  NewEstimator(),
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
	}
}

// Run executes one conversational turn, streaming events to sink.
func (p *ChatPipeline) Run(ctx context.Context, req *datatypes.ChatRequest, sink datatypes.EventSink) (*Result, error) {
	return p.run(ctx, req, nil, false, sink)
}

// RunResearchTurn executes one deep-research iteration with the
// accumulated findings injected as hidden context. Memory updates are
// handled by the caller-visible turns only; findings never enter the
// session history.
func (p *ChatPipeline) RunResearchTurn(ctx context.Context, req *datatypes.ChatRequest, findings []string, sink datatypes.EventSink) (*Result, error) {
	return p.run(ctx, req, findings, true, sink)
}

func (p *ChatPipeline) run(ctx context.Context, req *datatypes.ChatRequest, findings []string, forceResearch bool, sink datatypes.EventSink) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "ChatPipeline.Run")
	defer span.End()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.PipelineStarted("chat")
	}
	defer func() {
		if p.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			p.metrics.PipelineFinished("chat", outcome, time.Since(start).Seconds())
		}
	}()

	// ----- Validating -----
	req.EnsureDefaults()
	if verr := req.Validate(); verr != nil {
		err = &ValidationError{Err: verr}
		p.emitError(sink, err)
		return nil, err
	}
	sessionID := req.EnsureSessionId()
	userQuery := req.LastUserMessage()
	if strings.TrimSpace(userQuery) == "" {
		err = &ValidationError{Err: fmt.Errorf("request has no user message")}
		p.emitError(sink, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("pipeline.session_id", sessionID),
		attribute.String("pipeline.repo", req.Repo.Slug()),
	)

	// ----- Analyzing -----
	research := forceResearch || req.DeepResearch
	if hasResearchMarker(userQuery) {
		research = true
		userQuery = stripResearchMarker(userQuery)
	}
	span.SetAttributes(attribute.Bool("pipeline.research", research))
	p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventProgress, Message: "analyzing request"})

	// ----- PromptBuilding -----
	in := promptInput{
		repo:      req.Repo,
		research:  research,
		findings:  findings,
		userQuery: userQuery,
	}

	retrieveQuery := userQuery
	if req.FileScope != "" {
		retrieveQuery = req.FileScope + " " + userQuery
	}

	g, gctx := errgroup.WithContext(ctx)
	var retrieved *datatypes.RetrievalResult
	var retrieveErr error
	g.Go(func() error {
		r, ferr := p.retrievers.ForRepo(gctx, req.Repo)
		if ferr != nil {
			retrieveErr = ferr
			return nil // degraded, not fatal
		}
		res, rerr := r.Retrieve(gctx, retrieveQuery, retriever.Options{
			TopK:         p.cfg.TopK,
			IncludePaths: req.IncludePaths,
			ExcludePaths: req.ExcludePaths,
		})
		if rerr != nil {
			retrieveErr = rerr
			return nil
		}
		retrieved = res
		return nil
	})
	var scoped []scopedFile
	if req.FileScope != "" {
		g.Go(func() error {
			content, ferr := p.files(req.Repo, req.FileScope)
			if ferr != nil {
				slog.Warn("File scope unavailable",
					"repo", req.Repo.Slug(),
					"path", req.FileScope,
					"error", ferr,
				)
				return nil
			}
			scoped = append(scoped, scopedFile{path: req.FileScope, content: content})
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		err = asTimeout("prompt_building", werr)
		p.emitError(sink, err)
		return nil, err
	}

	if retrieveErr != nil {
		slog.Warn("Retrieval degraded, continuing without context",
			"repo", req.Repo.Slug(),
			"error", retrieveErr,
		)
		in.degraded = true
		p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventProgress, Message: "answering without retrieved context"})
	} else if retrieved != nil {
		in.documents = retrieved.Documents
		p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventSources, Sources: retrieved.Sources()})
	}
	in.fileScope = scoped
	in.history = p.memory.History(sessionID, p.cfg.MaxHistoryTurns)

	messages, in := p.trimToBudget(in)
	if tokens := p.estimator.CountMessages(messages); tokens > p.cfg.MaxPromptTokens {
		// Even with every document and turn trimmed away the prompt
		// does not fit, so no provider call can succeed.
		err = &ValidationError{Err: fmt.Errorf("prompt needs %d tokens after trimming, budget is %d", tokens, p.cfg.MaxPromptTokens)}
		p.emitError(sink, err)
		return nil, err
	}

	// ----- Generating -----
	gen, gerr := p.generators.Get(req.Provider)
	if gerr != nil {
		err = &GenerationError{Provider: req.Provider, Err: gerr}
		p.emitError(sink, err)
		return nil, err
	}
	params := llm.GenerationParams{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		MaxTokens:     req.MaxTokens,
		ModelOverride: req.Model,
	}

	resp, genErr := p.generate(ctx, gen, messages, params, sink)
	if genErr != nil && llm.IsTokenLimit(genErr) {
		// One retry with an aggressively trimmed prompt.
		if p.metrics != nil {
			p.metrics.FallbackTriggered()
		}
		p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventFallback, Message: "prompt exceeded the model context window; retrying with trimmed context"})
		messages = buildMessages(p.fallbackTrim(in))
		resp, genErr = p.generate(ctx, gen, messages, params, sink)
	}
	if genErr != nil {
		provider := req.Provider
		if provider == "" {
			provider = p.generators.DefaultProvider()
		}
		err = asTimeout("generating", genErr)
		if !IsTimeoutError(err) {
			err = &GenerationError{Provider: provider, Err: genErr}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		p.emitError(sink, err)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	// ----- MemoryUpdating -----
	// Memory failures never fail a turn that already produced an answer.
	if merr := p.memory.Append(sessionID, datatypes.NewTurn(datatypes.RoleUser, userQuery)); merr != nil {
		slog.Warn("Failed to record user turn", "session_id", sessionID, "error", merr)
	}
	if merr := p.memory.Append(sessionID, datatypes.NewTurn(datatypes.RoleAssistant, resp.Content)); merr != nil {
		slog.Warn("Failed to record assistant turn", "session_id", sessionID, "error", merr)
	}

	// ----- Done -----
	result = &Result{
		Answer:       resp.Content,
		SessionId:    sessionID,
		Usage:        resp.Usage,
		Degraded:     in.degraded,
		ResearchMode: research,
	}
	if retrieved != nil {
		result.Sources = retrieved.Sources()
	}
	usage := resp.Usage
	p.emit(sink, datatypes.PipelineEvent{
		Type:      datatypes.EventDone,
		SessionId: sessionID,
		Usage:     &usage,
	})
	return result, nil
}

// generate runs one streaming generation, forwarding deltas to sink.
func (p *ChatPipeline) generate(ctx context.Context, gen llm.Generator, messages []datatypes.Message, params llm.GenerationParams, sink datatypes.EventSink) (*datatypes.GenerationResponse, error) {
	return gen.ChatStream(ctx, messages, params, func(event llm.StreamEvent) error {
		if event.Done {
			return nil
		}
		return p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventDelta, Content: event.Content})
	})
}

// emit forwards an event; a sink error means the caller went away.
func (p *ChatPipeline) emit(sink datatypes.EventSink, event datatypes.PipelineEvent) error {
	if sink == nil {
		return nil
	}
	return sink(event)
}

// emitError sends a terminal error event, best-effort.
func (p *ChatPipeline) emitError(sink datatypes.EventSink, err error) {
	_ = p.emit(sink, datatypes.PipelineEvent{Type: datatypes.EventError, Error: err.Error()})
}

// =============================================================================
// Token-Budget Trimming
// =============================================================================

// trimToBudget drops context pieces per the configured order until the
// assembled prompt fits MaxPromptTokens.
func (p *ChatPipeline) trimToBudget(in promptInput) ([]datatypes.Message, promptInput) {
	messages := buildMessages(in)
	for p.estimator.CountMessages(messages) > p.cfg.MaxPromptTokens {
		if !p.trimStep(&in) {
			break
		}
		messages = buildMessages(in)
	}
	return messages, in
}

// trimStep removes one piece of context; returns false when nothing is
// left to trim.
func (p *ChatPipeline) trimStep(in *promptInput) bool {
	switch p.cfg.TrimOrder {
	case TurnsFirst:
		if len(in.history) > 0 {
			in.history = in.history[1:]
			return true
		}
		if len(in.documents) > 0 {
			in.documents = in.documents[:len(in.documents)-1]
			return true
		}
	default: // DocumentsFirst
		if len(in.documents) > 0 {
			in.documents = in.documents[:len(in.documents)-1]
			return true
		}
		if len(in.history) > 0 {
			in.history = in.history[1:]
			return true
		}
	}
	return false
}

// fallbackTrim is the aggressive one-shot trim applied after the
// provider itself reported a context overflow.
func (p *ChatPipeline) fallbackTrim(in promptInput) promptInput {
	switch p.cfg.TrimOrder {
	case TurnsFirst:
		in.history = nil
		if len(in.documents) > 1 {
			in.documents = in.documents[:len(in.documents)/2]
		}
	default: // DocumentsFirst
		in.documents = nil
		if len(in.history) > 2 {
			in.history = in.history[len(in.history)-2:]
		}
	}
	return in
}

// =============================================================================
// Research Marker Detection
// =============================================================================

// IsResearchRequest reports whether a request asks for deep research,
// either via the explicit flag or the in-message marker. Callers use it
// to route between a single turn and the research loop.
func IsResearchRequest(req *datatypes.ChatRequest) bool {
	return req.DeepResearch || hasResearchMarker(req.LastUserMessage())
}

func hasResearchMarker(text string) bool {
	return strings.Contains(strings.ToLower(text), researchMarker)
}

func stripResearchMarker(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, researchMarker)
	if idx < 0 {
		return text
	}
	return strings.TrimSpace(text[:idx] + text[idx+len(researchMarker):])
}
