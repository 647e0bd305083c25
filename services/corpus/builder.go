// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/index"
	"github.com/lanternai/lantern/services/retriever"
)

// embedBatchSize bounds one embedding request.
const embedBatchSize = 64

// RemoteIndexFactory opens a remote store for one repository
// fingerprint. An already populated store is reused as-is; an empty one
// is filled from the working tree.
type RemoteIndexFactory func(repo datatypes.RepositoryContext, fingerprint string) (index.Store, error)

// Builder turns repository working trees into ready-to-query vector
// indexes, cached on disk per repository fingerprint, or held remotely
// when a RemoteIndexFactory is installed.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent builds of the same repository are
// deduplicated; the second caller waits for the first build.
type Builder struct {
	loader   Loader
	embedder retriever.EmbeddingProvider
	cacheDir string
	remote   RemoteIndexFactory

	mu     sync.Mutex
	builds map[string]*buildResult
}

type buildResult struct {
	done chan struct{}
	ix   index.Store
	err  error
}

// NewBuilder creates a Builder caching indexes under cacheDir.
func NewBuilder(loader Loader, embedder retriever.EmbeddingProvider, cacheDir string) *Builder {
	return &Builder{
		loader:   loader,
		embedder: embedder,
		cacheDir: cacheDir,
		builds:   make(map[string]*buildResult),
	}
}

// WithRemoteIndex switches the builder to a remote store backend. The
// local JSON cache is bypassed; persistence is the remote store's job.
func (b *Builder) WithRemoteIndex(factory RemoteIndexFactory) *Builder {
	b.remote = factory
	return b
}

// cachePath returns the index file for a repository fingerprint.
func (b *Builder) cachePath(fingerprint string) string {
	return filepath.Join(b.cacheDir, fingerprint+".json")
}

// BuildOrLoad returns the repository's index, loading the cached copy
// when present and building from the working tree otherwise.
func (b *Builder) BuildOrLoad(ctx context.Context, repo datatypes.RepositoryContext) (index.Store, error) {
	fingerprint := repo.Fingerprint(b.embedder.Model())

	b.mu.Lock()
	if inflight, ok := b.builds[fingerprint]; ok {
		b.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.ix, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	result := &buildResult{done: make(chan struct{})}
	b.builds[fingerprint] = result
	b.mu.Unlock()

	result.ix, result.err = b.buildOrLoad(ctx, repo, fingerprint)
	close(result.done)

	b.mu.Lock()
	delete(b.builds, fingerprint)
	b.mu.Unlock()

	return result.ix, result.err
}

func (b *Builder) buildOrLoad(ctx context.Context, repo datatypes.RepositoryContext, fingerprint string) (index.Store, error) {
	ctx, span := tracer.Start(ctx, "Builder.BuildOrLoad")
	defer span.End()
	span.SetAttributes(
		attribute.String("corpus.repo", repo.Slug()),
		attribute.String("corpus.fingerprint", fingerprint),
	)

	if b.remote != nil {
		return b.buildRemote(ctx, repo, fingerprint)
	}

	path := b.cachePath(fingerprint)
	if ix, err := index.LoadLocalIndex(path); err == nil {
		span.SetAttributes(attribute.Bool("corpus.cache_hit", true))
		return ix, nil
	} else if !os.IsNotExist(unwrapAll(err)) {
		slog.Warn("Ignoring unreadable index cache, rebuilding", "path", path, "error", err)
	}

	ix, err := b.build(ctx, repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, err
	}
	if err := ix.Save(path); err != nil {
		// A failed cache write is not fatal; the index is usable.
		slog.Warn("Failed to cache index", "path", path, "error", err)
	}
	return ix, nil
}

// buildRemote fills (or reuses) the remote store for a repository. A
// populated store counts as a cache hit.
func (b *Builder) buildRemote(ctx context.Context, repo datatypes.RepositoryContext, fingerprint string) (index.Store, error) {
	store, err := b.remote(repo, fingerprint)
	if err != nil {
		return nil, err
	}
	count, err := store.Len(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		slog.Info("Reusing populated remote index", "repo", repo.Slug(), "documents", count)
		return store, nil
	}

	docs, err := b.embedCorpus(ctx, repo)
	if err != nil {
		return nil, err
	}
	accepted, err := store.Add(ctx, docs)
	if err != nil {
		return nil, err
	}
	slog.Info("Built remote repository index", "repo", repo.Slug(), "documents", accepted)
	return store, nil
}

// build embeds the corpus into a fresh local index.
func (b *Builder) build(ctx context.Context, repo datatypes.RepositoryContext) (*index.LocalIndex, error) {
	docs, err := b.embedCorpus(ctx, repo)
	if err != nil {
		return nil, err
	}
	ix, err := index.NewLocalIndex(docs[0].Dimension())
	if err != nil {
		return nil, err
	}
	accepted, err := ix.Add(ctx, docs)
	if err != nil {
		return nil, err
	}
	slog.Info("Built repository index", "repo", repo.Slug(), "documents", accepted)
	return ix, nil
}

// embedCorpus loads, chunks, and embeds the whole working tree.
func (b *Builder) embedCorpus(ctx context.Context, repo datatypes.RepositoryContext) ([]datatypes.Document, error) {
	raws, err := b.loader.Load(ctx, repo)
	if err != nil {
		return nil, err
	}

	var docs []datatypes.Document
	for _, raw := range raws {
		chunks, err := SplitDocument(raw)
		if err != nil {
			slog.Warn("Skipping unsplittable file", "path", raw.Path, "error", err)
			continue
		}
		docs = append(docs, chunks...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("repository %s produced no indexable chunks", repo.Slug())
	}
	slog.Info("Chunked repository corpus", "repo", repo.Slug(), "chunks", len(docs))

	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		texts := make([]string, 0, end-start)
		for _, doc := range docs[start:end] {
			texts = append(texts, doc.Content)
		}
		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d of %s: %w", start, end, repo.Slug(), err)
		}
		for i := range vectors {
			docs[start+i].Embedding = vectors[i]
		}
	}
	return docs, nil
}

// Invalidate drops the cached index for a repository so the next
// BuildOrLoad rebuilds from the working tree.
func (b *Builder) Invalidate(repo datatypes.RepositoryContext) error {
	path := b.cachePath(repo.Fingerprint(b.embedder.Model()))
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("invalidating %s: %w", path, err)
	}
	if err == nil {
		slog.Info("Invalidated index cache", "repo", repo.Slug(), "path", path)
	}
	return nil
}

// unwrapAll follows the error chain to its root cause.
func unwrapAll(err error) error {
	for {
		unwrapped, ok := err.(interface{ Unwrap() error })
		if !ok || unwrapped.Unwrap() == nil {
			return err
		}
		err = unwrapped.Unwrap()
	}
}
