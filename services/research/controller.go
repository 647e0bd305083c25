// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package research drives multi-iteration deep-research sessions over
// the chat pipeline: run a turn, scan for the continuation signal,
// accumulate findings, and stop at the iteration cap.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/pipeline"
)

var tracer = otel.Tracer("lantern.research")

// DefaultMaxIterations bounds a research session when unconfigured.
// Deliberately small: each iteration is a full retrieval + generation.
const DefaultMaxIterations = 5

// ResearchRunner is the pipeline surface the controller drives.
// Satisfied by *pipeline.ChatPipeline.
type ResearchRunner interface {
	RunResearchTurn(ctx context.Context, req *datatypes.ChatRequest, findings []string, sink datatypes.EventSink) (*pipeline.Result, error)
}

// Controller owns the deep-research state machine:
//
//	Idle -> Researching(1..N) -> Concluded
//	Researching -> Abandoned (cancellation)
//
// Reaching the iteration cap while the model still signals continuation
// forces Concluded with Truncated set.
type Controller struct {
	runner        ResearchRunner
	maxIterations int
}

// NewController creates a controller. maxIterations <= 0 uses
// DefaultMaxIterations.
func NewController(runner ResearchRunner, maxIterations int) *Controller {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Controller{runner: runner, maxIterations: maxIterations}
}

// Outcome is the finished research session.
type Outcome struct {
	State datatypes.ResearchState

	// Answer is the final iteration's reply with the continuation tag
	// stripped.
	Answer string

	// Usage aggregates token usage across all iterations.
	Usage datatypes.TokenUsage
}

// Run executes a research session for one request. Events from every
// iteration stream to sink; iteration boundaries are announced as
// progress events.
func (c *Controller) Run(ctx context.Context, req *datatypes.ChatRequest, sink datatypes.EventSink) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Controller.Run")
	defer span.End()

	state := datatypes.ResearchState{
		SessionId:     req.EnsureSessionId(),
		Stage:         datatypes.ResearchResearching,
		MaxIterations: c.maxIterations,
	}
	span.SetAttributes(
		attribute.String("research.session_id", state.SessionId),
		attribute.Int("research.max_iterations", c.maxIterations),
	)

	var usage datatypes.TokenUsage
	answer := ""

	for state.Iteration < state.MaxIterations {
		if err := ctx.Err(); err != nil {
			state.Stage = datatypes.ResearchAbandoned
			span.SetStatus(codes.Error, "abandoned")
			return &Outcome{State: state, Answer: answer, Usage: usage}, err
		}

		state.Iteration++
		c.emitProgress(sink, fmt.Sprintf("research iteration %d/%d", state.Iteration, state.MaxIterations))

		result, err := c.runner.RunResearchTurn(ctx, req, state.Findings, sink)
		if err != nil {
			state.Stage = datatypes.ResearchAbandoned
			span.RecordError(err)
			span.SetStatus(codes.Error, "iteration failed")
			return &Outcome{State: state, Answer: answer, Usage: usage}, err
		}
		usage.Add(result.Usage)

		continues := parseContinuationSignal(result.Answer)
		finding := stripContinuationSignal(result.Answer)
		state.Findings = append(state.Findings, finding)
		answer = finding

		if !continues {
			state.Stage = datatypes.ResearchConcluded
			slog.Info("Research concluded",
				"session_id", state.SessionId,
				"iterations", state.Iteration,
			)
			return &Outcome{State: state, Answer: answer, Usage: usage}, nil
		}
	}

	// Cap reached while the model still wanted to continue.
	state.Stage = datatypes.ResearchConcluded
	state.Truncated = true
	slog.Warn("Research truncated at iteration cap",
		"session_id", state.SessionId,
		"max_iterations", state.MaxIterations,
	)
	c.emitProgress(sink, "research stopped at the iteration cap; findings may be incomplete")
	return &Outcome{State: state, Answer: answer, Usage: usage}, nil
}

func (c *Controller) emitProgress(sink datatypes.EventSink, message string) {
	if sink == nil {
		return
	}
	_ = sink(datatypes.PipelineEvent{Type: datatypes.EventProgress, Message: message})
}

// =============================================================================
// Continuation Signal
// =============================================================================

// parseContinuationSignal reports whether the assistant asked for
// another research round. The heuristic is isolated here so it can be
// swapped without touching the state machine.
func parseContinuationSignal(text string) bool {
	return strings.Contains(text, pipeline.ContinuationMarker)
}

// stripContinuationSignal removes the marker from a finding.
func stripContinuationSignal(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, pipeline.ContinuationMarker, ""))
}
