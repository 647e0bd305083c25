// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package multirepo fans one query out across several repositories and
// merges the per-repository answers into a deterministic result.
package multirepo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/pipeline"
)

var tracer = otel.Tracer("lantern.multirepo")

// =============================================================================
// Coordinator
// =============================================================================

// RepoRunner answers one query against one repository. Satisfied by
// *pipeline.RagPipeline.
type RepoRunner interface {
	Run(ctx context.Context, req *datatypes.RagRequest) (*datatypes.RagResponse, error)
}

// ProgressFunc reports fan-out completion. completed is monotonically
// non-decreasing and ends at total.
type ProgressFunc func(completed, total int)

// Config tunes the fan-out.
type Config struct {
	// MaxConcurrency bounds parallel per-repo runs. Default 4.
	MaxConcurrency int

	// PerRepoTimeout bounds one repository's run. Failures are scoped
	// to that repository. Default 2m.
	PerRepoTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.PerRepoTimeout <= 0 {
		c.PerRepoTimeout = 2 * time.Minute
	}
	return c
}

// RepoStatus is the terminal status of one repository's run.
type RepoStatus string

const (
	StatusSuccess RepoStatus = "success"
	StatusFailed  RepoStatus = "failed"
)

// RepoResult is one repository's slot in the merged result. Failed
// repositories keep their slot with the error recorded.
type RepoResult struct {
	Repo     datatypes.RepositoryContext `json:"repo"`
	Status   RepoStatus                  `json:"status"`
	Answer   string                      `json:"answer,omitempty"`
	Sources  []datatypes.SourceInfo      `json:"sources,omitempty"`
	Usage    datatypes.TokenUsage        `json:"usage"`
	Degraded bool                        `json:"degraded,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

// MergedResult is the fan-out outcome. Results follow the request's
// repository order regardless of completion order.
type MergedResult struct {
	Query      string               `json:"query"`
	Results    []RepoResult         `json:"results"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	Documents  int                  `json:"documents_retrieved"`
	Usage      datatypes.TokenUsage `json:"usage"`
}

// Coordinator runs the fan-out with bounded concurrency.
//
// # Thread Safety
//
// Safe for concurrent use.
type Coordinator struct {
	runner RepoRunner
	sem    *Semaphore
	cfg    Config
}

// NewCoordinator wires a coordinator over a per-repo runner.
func NewCoordinator(runner RepoRunner, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		runner: runner,
		sem:    NewSemaphore(cfg.MaxConcurrency),
		cfg:    cfg,
	}
}

// Run fans the query out to every repository in the request. A failing
// repository never fails the merge; its slot records the error. The
// returned error is non-nil only for invalid requests or a canceled
// context before any work completed.
func (c *Coordinator) Run(ctx context.Context, req *datatypes.MultiRepoRequest, progress ProgressFunc) (*MergedResult, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Run")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, &pipeline.ValidationError{Err: err}
	}
	total := len(req.Repos)
	span.SetAttributes(attribute.Int("multirepo.repos", total))

	results := make([]RepoResult, total)

	var (
		wg        sync.WaitGroup
		progressM sync.Mutex
		completed int
	)
	reportDone := func() {
		if progress == nil {
			return
		}
		progressM.Lock()
		completed++
		progress(completed, total)
		progressM.Unlock()
	}

	for i, repo := range req.Repos {
		wg.Add(1)
		go func(slot int, repo datatypes.RepositoryContext) {
			defer wg.Done()
			defer reportDone()

			results[slot] = c.runOne(ctx, req, repo)
		}(i, repo)
	}
	wg.Wait()

	merged := &MergedResult{Query: req.Query, Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			merged.Successful++
		} else {
			merged.Failed++
		}
		merged.Documents += len(r.Sources)
		merged.Usage.Add(r.Usage)
	}
	span.SetAttributes(
		attribute.Int("multirepo.successful", merged.Successful),
		attribute.Int("multirepo.failed", merged.Failed),
	)
	return merged, nil
}

// runOne executes a single repository's run under the semaphore and the
// per-repo timeout.
func (c *Coordinator) runOne(ctx context.Context, req *datatypes.MultiRepoRequest, repo datatypes.RepositoryContext) RepoResult {
	result := RepoResult{Repo: repo, Status: StatusFailed}

	if err := c.sem.Acquire(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	defer c.sem.Release()

	repoCtx, cancel := context.WithTimeout(ctx, c.cfg.PerRepoTimeout)
	defer cancel()

	resp, err := c.runner.Run(repoCtx, &datatypes.RagRequest{
		RequestId: req.RequestId,
		Repo:      repo,
		Query:     req.Query,
		Provider:  req.Provider,
		Model:     req.Model,
	})
	if err != nil {
		slog.Warn("Repository run failed in fan-out",
			"repo", repo.Slug(),
			"error", err,
		)
		result.Error = err.Error()
		return result
	}

	result.Status = StatusSuccess
	result.Answer = resp.Answer
	result.Sources = resp.Sources
	result.Usage = resp.Usage
	result.Degraded = resp.Degraded
	return result
}
