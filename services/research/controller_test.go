// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/pipeline"
)

// scriptedRunner returns canned answers per iteration and records the
// findings it was handed.
type scriptedRunner struct {
	answers      []string
	err          error
	seenFindings [][]string
	calls        int
}

func (s *scriptedRunner) RunResearchTurn(ctx context.Context, req *datatypes.ChatRequest, findings []string, sink datatypes.EventSink) (*pipeline.Result, error) {
	s.calls++
	snapshot := make([]string, len(findings))
	copy(snapshot, findings)
	s.seenFindings = append(s.seenFindings, snapshot)

	if s.err != nil {
		return nil, s.err
	}
	answer := "exhaustive answer"
	if s.calls <= len(s.answers) {
		answer = s.answers[s.calls-1]
	}
	return &pipeline.Result{
		Answer:       answer,
		SessionId:    req.SessionId,
		Usage:        datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		ResearchMode: true,
	}, nil
}

func researchReq() *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		SessionId: "sess_research",
		Repo:      datatypes.RepositoryContext{Owner: "acme", Repo: "widget", Platform: "github"},
		Messages:  []datatypes.Message{{Role: datatypes.RoleUser, Content: "map the auth flow"}},
	}
}

func continuing(finding string) string {
	return finding + "\n" + pipeline.ContinuationMarker
}

func TestRun_ConcludesWhenSignalAbsent(t *testing.T) {
	runner := &scriptedRunner{answers: []string{
		continuing("found the login handler"),
		continuing("traced the token validation"),
		"the flow ends at the session store",
	}}
	c := NewController(runner, 5)

	outcome, err := c.Run(context.Background(), researchReq(), nil)
	require.NoError(t, err)

	assert.Equal(t, datatypes.ResearchConcluded, outcome.State.Stage)
	assert.False(t, outcome.State.Truncated)
	assert.Equal(t, 3, outcome.State.Iteration)
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, "the flow ends at the session store", outcome.Answer)

	// Findings accumulate in iteration order, markers stripped.
	require.Len(t, outcome.State.Findings, 3)
	assert.Equal(t, "found the login handler", outcome.State.Findings[0])
	assert.NotContains(t, outcome.State.Findings[1], pipeline.ContinuationMarker)

	// Each iteration saw the findings of the ones before it.
	assert.Empty(t, runner.seenFindings[0])
	assert.Equal(t, []string{"found the login handler"}, runner.seenFindings[1])
	assert.Len(t, runner.seenFindings[2], 2)

	// Usage aggregates across iterations.
	assert.Equal(t, 45, outcome.Usage.TotalTokens)
}

func TestRun_AlwaysContinueStopsAtCapWithTruncation(t *testing.T) {
	// The model never stops asking for more.
	runner := &scriptedRunner{}
	for i := 0; i < 20; i++ {
		runner.answers = append(runner.answers, continuing(fmt.Sprintf("finding %d", i)))
	}
	const maxIterations = 5
	c := NewController(runner, maxIterations)

	outcome, err := c.Run(context.Background(), researchReq(), nil)
	require.NoError(t, err)

	assert.Equal(t, maxIterations, runner.calls)
	assert.Equal(t, maxIterations, outcome.State.Iteration)
	assert.Equal(t, datatypes.ResearchConcluded, outcome.State.Stage)
	assert.True(t, outcome.State.Truncated)
	assert.Len(t, outcome.State.Findings, maxIterations)
}

func TestRun_SingleTurnConcludes(t *testing.T) {
	runner := &scriptedRunner{answers: []string{"done in one pass"}}
	c := NewController(runner, 5)

	outcome, err := c.Run(context.Background(), researchReq(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.State.Iteration)
	assert.False(t, outcome.State.Truncated)
	assert.Equal(t, "done in one pass", outcome.Answer)
}

func TestRun_IterationFailureAbandons(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("provider down")}
	c := NewController(runner, 5)

	outcome, err := c.Run(context.Background(), researchReq(), nil)
	require.Error(t, err)
	assert.Equal(t, datatypes.ResearchAbandoned, outcome.State.Stage)
	assert.Equal(t, 1, runner.calls)
}

func TestRun_CancellationAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &scriptedRunner{answers: []string{continuing("partial")}}
	c := NewController(runner, 5)

	outcome, err := c.Run(ctx, researchReq(), nil)
	require.Error(t, err)
	assert.Equal(t, datatypes.ResearchAbandoned, outcome.State.Stage)
	assert.Zero(t, runner.calls)
}

func TestDefaultMaxIterations(t *testing.T) {
	c := NewController(&scriptedRunner{}, 0)
	assert.Equal(t, DefaultMaxIterations, c.maxIterations)
}

func TestParseContinuationSignal(t *testing.T) {
	assert.True(t, parseContinuationSignal("more to do\n"+pipeline.ContinuationMarker))
	assert.True(t, parseContinuationSignal(pipeline.ContinuationMarker))
	assert.False(t, parseContinuationSignal("all done"))
	assert.False(t, parseContinuationSignal(""))

	assert.Equal(t, "more to do", stripContinuationSignal("more to do\n"+pipeline.ContinuationMarker))
}
