// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/llm"
	"github.com/lanternai/lantern/services/retriever"
)

// RagPipeline is the single-shot variant: one query in, one grounded
// answer out, no conversation memory and no streaming.
//
// # Thread Safety
//
// Safe for concurrent use.
type RagPipeline struct {
	generators GeneratorResolver
	retrievers RetrieverFactory
	estimator  *Estimator
	metrics    Metrics
	cfg        Config
}

// NewRagPipeline wires a single-shot pipeline. metrics may be nil.
func NewRagPipeline(generators GeneratorResolver, retrievers RetrieverFactory, metrics Metrics, cfg Config) *RagPipeline {
	return &RagPipeline{
		generators: generators,
		retrievers: retrievers,
		estimator:  NewEstimator(),
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
	}
}

// Run answers one query against one repository.
func (p *RagPipeline) Run(ctx context.Context, req *datatypes.RagRequest) (resp *datatypes.RagResponse, err error) {
	ctx, span := tracer.Start(ctx, "RagPipeline.Run")
	defer span.End()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.PipelineStarted("rag")
	}
	defer func() {
		if p.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			p.metrics.PipelineFinished("rag", outcome, time.Since(start).Seconds())
		}
	}()

	req.EnsureDefaults()
	if verr := req.Validate(); verr != nil {
		return nil, &ValidationError{Err: verr}
	}
	span.SetAttributes(attribute.String("pipeline.repo", req.Repo.Slug()))

	in := promptInput{
		repo:      req.Repo,
		userQuery: req.Query,
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	var retrieved *datatypes.RetrievalResult
	r, ferr := p.retrievers.ForRepo(ctx, req.Repo)
	if ferr == nil {
		retrieved, ferr = r.Retrieve(ctx, req.Query, retriever.Options{TopK: topK})
	}
	if ferr != nil {
		slog.Warn("Retrieval degraded, answering without context",
			"repo", req.Repo.Slug(),
			"error", ferr,
		)
		in.degraded = true
	} else {
		in.documents = retrieved.Documents
	}

	messages, in := p.trimToBudget(in)
	if tokens := p.estimator.CountMessages(messages); tokens > p.cfg.MaxPromptTokens {
		return nil, &ValidationError{Err: fmt.Errorf("prompt needs %d tokens after trimming, budget is %d", tokens, p.cfg.MaxPromptTokens)}
	}

	gen, gerr := p.generators.Get(req.Provider)
	if gerr != nil {
		return nil, &GenerationError{Provider: req.Provider, Err: gerr}
	}
	params := llm.GenerationParams{ModelOverride: req.Model}

	genResp, genErr := gen.Chat(ctx, messages, params)
	if genErr != nil && llm.IsTokenLimit(genErr) {
		if p.metrics != nil {
			p.metrics.FallbackTriggered()
		}
		slog.Info("Prompt exceeded context window, retrying trimmed", "repo", req.Repo.Slug())
		messages = buildMessages(p.fallbackTrim(in))
		genResp, genErr = gen.Chat(ctx, messages, params)
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
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordTokens(genResp.Usage.PromptTokens, genResp.Usage.CompletionTokens)
	}

	var sources []datatypes.SourceInfo
	if retrieved != nil {
		sources = retrieved.Sources()
	}
	resp = datatypes.NewRagResponse(genResp.Content, req.SessionId, sources)
	resp.Usage = genResp.Usage
	resp.Degraded = in.degraded
	return resp, nil
}

// trimToBudget mirrors the chat pipeline's budget enforcement for the
// single-shot flow (documents only; there is no history).
func (p *RagPipeline) trimToBudget(in promptInput) ([]datatypes.Message, promptInput) {
	messages := buildMessages(in)
	for p.estimator.CountMessages(messages) > p.cfg.MaxPromptTokens && len(in.documents) > 0 {
		in.documents = in.documents[:len(in.documents)-1]
		messages = buildMessages(in)
	}
	return messages, in
}

// fallbackTrim drops all retrieved context after a provider-reported
// overflow.
func (p *RagPipeline) fallbackTrim(in promptInput) promptInput {
	in.documents = nil
	return in
}
