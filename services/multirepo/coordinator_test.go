// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package multirepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/pipeline"
)

// fakeRunner answers per repository slug, optionally failing some and
// tracking peak concurrency.
type fakeRunner struct {
	mu      sync.Mutex
	failing map[string]error
	delay   time.Duration
	calls   []string

	inFlight int32
	peak     int32
}

func (f *fakeRunner) Run(ctx context.Context, req *datatypes.RagRequest) (*datatypes.RagResponse, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&f.peak, p, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	slug := req.Repo.Slug()
	f.mu.Lock()
	f.calls = append(f.calls, slug)
	err := f.failing[slug]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	resp := datatypes.NewRagResponse("answer for "+slug, req.SessionId, []datatypes.SourceInfo{{FilePath: slug + "/main.go"}})
	resp.Usage = datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	return resp, nil
}

func repos(n int) []datatypes.RepositoryContext {
	out := make([]datatypes.RepositoryContext, n)
	for i := range out {
		out[i] = datatypes.RepositoryContext{
			Owner:    "acme",
			Repo:     fmt.Sprintf("svc-%d", i),
			Platform: "github",
		}
	}
	return out
}

func multiReq(n int) *datatypes.MultiRepoRequest {
	return &datatypes.MultiRepoRequest{
		Query: "where is the rate limiter configured?",
		Repos: repos(n),
	}
}

func TestCoordinatorRun_MergesInInputOrder(t *testing.T) {
	runner := &fakeRunner{delay: 2 * time.Millisecond}
	c := NewCoordinator(runner, Config{MaxConcurrency: 3})

	merged, err := c.Run(context.Background(), multiReq(5), nil)
	require.NoError(t, err)

	require.Len(t, merged.Results, 5)
	for i, r := range merged.Results {
		assert.Equal(t, fmt.Sprintf("acme/svc-%d", i), r.Repo.Slug())
		assert.Equal(t, StatusSuccess, r.Status)
		assert.Equal(t, fmt.Sprintf("answer for acme/svc-%d", i), r.Answer)
	}
	assert.Equal(t, 5, merged.Successful)
	assert.Zero(t, merged.Failed)
	assert.Equal(t, 5, merged.Documents)
	assert.Equal(t, 75, merged.Usage.TotalTokens)
}

func TestCoordinatorRun_FailureIsolatedToItsRepo(t *testing.T) {
	runner := &fakeRunner{failing: map[string]error{
		"acme/svc-1": &pipeline.GenerationError{Provider: "openai", Err: errors.New("backend unavailable")},
	}}
	c := NewCoordinator(runner, Config{})

	merged, err := c.Run(context.Background(), multiReq(3), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, merged.Successful)
	assert.Equal(t, 1, merged.Failed)
	assert.Equal(t, 2, merged.Documents)

	failed := merged.Results[1]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "backend unavailable")
	assert.Empty(t, failed.Answer)

	// The neighbours are untouched.
	assert.Equal(t, StatusSuccess, merged.Results[0].Status)
	assert.Equal(t, StatusSuccess, merged.Results[2].Status)
}

func TestCoordinatorRun_BoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	c := NewCoordinator(runner, Config{MaxConcurrency: 2})

	_, err := c.Run(context.Background(), multiReq(8), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.peak, int32(2))
	assert.Len(t, runner.calls, 8)
}

func TestCoordinatorRun_ProgressIsMonotonic(t *testing.T) {
	runner := &fakeRunner{delay: time.Millisecond}
	c := NewCoordinator(runner, Config{MaxConcurrency: 4})

	var mu sync.Mutex
	var seen []int
	progress := func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 6, total)
		seen = append(seen, completed)
	}

	_, err := c.Run(context.Background(), multiReq(6), progress)
	require.NoError(t, err)

	require.Len(t, seen, 6)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
}

func TestCoordinatorRun_RejectsInvalidRequests(t *testing.T) {
	c := NewCoordinator(&fakeRunner{}, Config{})

	tests := []struct {
		name string
		req  *datatypes.MultiRepoRequest
	}{
		{"no repos", &datatypes.MultiRepoRequest{Query: "q"}},
		{"empty query", &datatypes.MultiRepoRequest{Repos: repos(1)}},
		{"too many repos", &datatypes.MultiRepoRequest{Query: "q", Repos: repos(17)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Run(context.Background(), tc.req, nil)
			require.Error(t, err)
			assert.True(t, pipeline.IsValidationError(err))
		})
	}
}

func TestCoordinatorRun_CancellationMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	c := NewCoordinator(runner, Config{MaxConcurrency: 1})

	merged, err := c.Run(ctx, multiReq(3), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Failed)
	for _, r := range merged.Results {
		assert.Equal(t, StatusFailed, r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

func TestCoordinatorRun_PerRepoTimeout(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	c := NewCoordinator(runner, Config{PerRepoTimeout: 5 * time.Millisecond})

	merged, err := c.Run(context.Background(), multiReq(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, merged.Failed)
	assert.Contains(t, merged.Results[0].Error, "context deadline exceeded")
}

// =============================================================================
// Semaphore
// =============================================================================

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))
	assert.Zero(t, s.Available())

	s.Release()
	assert.Equal(t, 1, s.Available())
	s.Release()
	assert.Equal(t, 2, s.Available())
}

func TestSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	s.Release()
	require.NoError(t, s.Acquire(context.Background()))
	s.Release()
}

func TestSemaphoreClampsCapacity(t *testing.T) {
	s := NewSemaphore(0)
	assert.Equal(t, 1, s.Available())
}

func TestSemaphoreReleaseWithoutAcquirePanics(t *testing.T) {
	s := NewSemaphore(1)
	assert.Panics(t, func() { s.Release() })
}
