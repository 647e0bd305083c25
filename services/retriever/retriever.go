// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/index"
)

// =============================================================================
// Errors
// =============================================================================

// RetrievalError reports a failed retrieval. Pipelines treat it as a
// degraded condition: the answer proceeds without repository context
// and the degradation is surfaced to the caller.
type RetrievalError struct {
	Repo    string
	Stage   string // "embed" or "search"
	Message string
	Err     error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for %s at %s: %s", e.Repo, e.Stage, e.Message)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err is a degraded-retrieval failure.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// =============================================================================
// Retriever
// =============================================================================

// overFetchFactor widens the index query when path filters are active,
// so filtering does not starve the result below topK.
const overFetchFactor = 3

// Options tunes one retrieval call.
type Options struct {
	// TopK is the number of documents to return. Values <= 0 use
	// DefaultTopK.
	TopK int

	// IncludePaths restricts results to paths matching any glob.
	// Empty means no restriction.
	IncludePaths []string

	// ExcludePaths removes results matching any glob. Applied after
	// IncludePaths.
	ExcludePaths []string
}

// DefaultTopK is used when a caller does not specify a result count.
const DefaultTopK = 8

// Retriever answers queries against one repository's vector index.
//
// # Thread Safety
//
// Safe for concurrent use; all state is immutable after construction.
type Retriever struct {
	repo     datatypes.RepositoryContext
	store    index.Store
	embedder EmbeddingProvider

	embedRetries int
	embedBackoff time.Duration
}

// New binds a retriever to one repository's store and embedder.
func New(repo datatypes.RepositoryContext, store index.Store, embedder EmbeddingProvider) *Retriever {
	return &Retriever{
		repo:         repo,
		store:        store,
		embedder:     embedder,
		embedRetries: 2,
		embedBackoff: 500 * time.Millisecond,
	}
}

// Repo returns the repository this retriever is bound to.
func (r *Retriever) Repo() datatypes.RepositoryContext { return r.repo }

// Retrieve embeds the query and returns the topK most similar
// documents, filtered by the path options. Identical queries against an
// unchanged index return identical rankings.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*datatypes.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retriever.repo", r.repo.Slug()),
		attribute.Int("retriever.top_k", opts.TopK),
	)

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	embedding, err := r.embedWithRetry(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, &RetrievalError{Repo: r.repo.Slug(), Stage: "embed", Message: err.Error(), Err: err}
	}

	fetchK := topK
	filtered := len(opts.IncludePaths) > 0 || len(opts.ExcludePaths) > 0
	if filtered {
		fetchK = topK * overFetchFactor
	}

	scored, err := r.store.Search(ctx, embedding, fetchK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, &RetrievalError{Repo: r.repo.Slug(), Stage: "search", Message: err.Error(), Err: err}
	}

	if filtered {
		scored = filterByPath(scored, opts.IncludePaths, opts.ExcludePaths)
		if len(scored) > topK {
			scored = scored[:topK]
		}
	}

	span.SetAttributes(attribute.Int("retriever.results", len(scored)))
	return &datatypes.RetrievalResult{Query: query, Documents: scored}, nil
}

// embedWithRetry retries transient embedding failures with a bounded
// backoff, skipping the retry when the deadline cannot cover it.
func (r *Retriever) embedWithRetry(ctx context.Context, query string) ([]float32, error) {
	var lastErr error
	delay := r.embedBackoff
	for attempt := 0; attempt <= r.embedRetries; attempt++ {
		if attempt > 0 {
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
				return nil, lastErr
			}
			slog.Warn("Retrying query embedding",
				"repo", r.repo.Slug(),
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		embedding, err := r.embedder.Embed(ctx, query)
		if err == nil {
			return embedding, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// =============================================================================
// Path Filtering
// =============================================================================

// filterByPath applies include then exclude globs, preserving order.
func filterByPath(docs []datatypes.ScoredDocument, include, exclude []string) []datatypes.ScoredDocument {
	out := make([]datatypes.ScoredDocument, 0, len(docs))
	for _, sd := range docs {
		filePath := sd.Document.Metadata.FilePath
		if len(include) > 0 && !matchesAny(filePath, include) {
			continue
		}
		if matchesAny(filePath, exclude) {
			continue
		}
		out = append(out, sd)
	}
	return out
}

// matchesAny matches a repository-relative path against glob patterns.
// A pattern without a slash matches the base name; "dir/**" matches the
// whole subtree.
func matchesAny(filePath string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchGlob(filePath, pattern) {
			return true
		}
	}
	return false
}

func matchGlob(filePath, pattern string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(filePath))
		return err == nil && ok
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return filePath == prefix || strings.HasPrefix(filePath, prefix+"/")
	}
	ok, err := path.Match(pattern, filePath)
	return err == nil && ok
}
