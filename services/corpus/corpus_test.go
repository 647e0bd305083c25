// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/index"
	"github.com/lanternai/lantern/services/retriever"
)

// hashEmbedder derives a deterministic unit vector from the text, so
// corpus tests run without a real embedding service.
type hashEmbedder struct{ calls int }

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var a, b float32
	for i, r := range text {
		if i%2 == 0 {
			a += float32(r % 13)
		} else {
			b += float32(r % 7)
		}
	}
	if a == 0 && b == 0 {
		a = 1
	}
	return []float32{a, b, 1}, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Model() string { return "hash-embed-test" }

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func localRepo(path string) datatypes.RepositoryContext {
	return datatypes.RepositoryContext{
		Owner:     "acme",
		Repo:      "widget",
		Platform:  "local",
		LocalPath: path,
	}
}

func TestDirLoader_LoadsIndexableFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":             "package main\n\nfunc main() {}\n",
		"docs/readme.md":      "# Widget\n\nA widget.\n",
		"image.png":           "\x89PNG not text",
		".git/config":         "[core]",
		"node_modules/x/y.js": "skip me",
	})

	docs, err := DirLoader{}.Load(context.Background(), localRepo(root))
	require.NoError(t, err)

	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	assert.ElementsMatch(t, []string{"main.go", "docs/readme.md"}, paths)
}

func TestDirLoader_MissingPath(t *testing.T) {
	repo := localRepo(filepath.Join(t.TempDir(), "missing"))
	_, err := DirLoader{}.Load(context.Background(), repo)
	require.Error(t, err)

	_, err = DirLoader{}.Load(context.Background(), datatypes.RepositoryContext{Owner: "a", Repo: "b"})
	require.Error(t, err)
}

func TestSplitDocument_ChunksLargeFiles(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 80; i++ {
		b.WriteString("func handler() {\n\treturn\n}\n\n")
	}
	raw := RawDocument{Path: "server/handlers.go", Content: b.String()}

	docs, err := SplitDocument(raw)
	require.NoError(t, err)
	require.Greater(t, len(docs), 1)

	for _, doc := range docs {
		assert.Equal(t, "server/handlers.go", doc.Metadata.FilePath)
		assert.Equal(t, "go", doc.Metadata.FileType)
		assert.NotEmpty(t, doc.ID)
		assert.LessOrEqual(t, len(doc.Content), chunkSize+chunkOverlap)
	}
}

func TestSplitDocument_DeterministicIDs(t *testing.T) {
	raw := RawDocument{Path: "a.md", Content: "# Title\n\nSome body text.\n"}

	first, err := SplitDocument(raw)
	require.NoError(t, err)
	second, err := SplitDocument(raw)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestBuildOrLoad_BuildsThenCaches(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":   "package main\n\nfunc main() { println(\"hi\") }\n",
		"readme.md": "# Widget\n",
	})
	repo := localRepo(root)
	embedder := &hashEmbedder{}
	builder := NewBuilder(DirLoader{}, embedder, t.TempDir())

	ix, err := builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	n, err := ix.Len(context.Background())
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	callsAfterBuild := embedder.calls

	// Second call must come from the cache without re-embedding.
	cached, err := builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	cachedN, err := cached.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, cachedN)
	assert.Equal(t, callsAfterBuild, embedder.calls)
}

func TestBuildOrLoad_InvalidateForcesRebuild(t *testing.T) {
	root := writeTree(t, map[string]string{"main.go": "package main\n"})
	repo := localRepo(root)
	embedder := &hashEmbedder{}
	builder := NewBuilder(DirLoader{}, embedder, t.TempDir())

	_, err := builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	callsAfterBuild := embedder.calls

	require.NoError(t, builder.Invalidate(repo))

	_, err = builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	assert.Greater(t, embedder.calls, callsAfterBuild)
}

// stubStore is an in-memory index.Store for exercising the remote
// build path without a server.
type stubStore struct {
	docs []datatypes.Document
}

func (s *stubStore) Add(ctx context.Context, docs []datatypes.Document) (int, error) {
	s.docs = append(s.docs, docs...)
	return len(docs), nil
}

func (s *stubStore) Search(ctx context.Context, embedding []float32, topK int) ([]datatypes.ScoredDocument, error) {
	return nil, nil
}

func (s *stubStore) Len(ctx context.Context) (int, error) { return len(s.docs), nil }

func TestBuildOrLoad_RemoteStoreFillsOnceThenReuses(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"readme.md": "# Widget\n",
	})
	repo := localRepo(root)
	embedder := &hashEmbedder{}
	remote := &stubStore{}

	var factoryCalls int
	builder := NewBuilder(DirLoader{}, embedder, t.TempDir()).
		WithRemoteIndex(func(r datatypes.RepositoryContext, fingerprint string) (index.Store, error) {
			factoryCalls++
			assert.Equal(t, repo.Fingerprint(embedder.Model()), fingerprint)
			return remote, nil
		})

	st, err := builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	assert.Same(t, remote, st)
	assert.NotEmpty(t, remote.docs)
	callsAfterBuild := embedder.calls

	// A populated remote store is a cache hit; nothing is re-embedded.
	_, err = builder.BuildOrLoad(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, callsAfterBuild, embedder.calls)
	assert.Equal(t, 2, factoryCalls)
}

func TestBuildOrLoad_EmptyCorpusFails(t *testing.T) {
	root := writeTree(t, map[string]string{"image.png": "not text"})
	builder := NewBuilder(DirLoader{}, &hashEmbedder{}, t.TempDir())

	_, err := builder.BuildOrLoad(context.Background(), localRepo(root))
	require.Error(t, err)
}

func TestRetrieverFactory_ForRepo(t *testing.T) {
	root := writeTree(t, map[string]string{
		"retry.go":  "package widget\n\nfunc retryBackoff() {}\n",
		"readme.md": "# Widget\n\nRetry logic lives in retry.go.\n",
	})
	repo := localRepo(root)
	embedder := &hashEmbedder{}
	factory := NewRetrieverFactory(NewBuilder(DirLoader{}, embedder, t.TempDir()), embedder)

	ret, err := factory.ForRepo(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, repo.Slug(), ret.Repo().Slug())

	result, err := ret.Retrieve(context.Background(), "how does retry work", retriever.Options{TopK: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Documents)
}

func TestRetrieverFactory_PropagatesBuildFailure(t *testing.T) {
	embedder := &hashEmbedder{}
	factory := NewRetrieverFactory(NewBuilder(DirLoader{}, embedder, t.TempDir()), embedder)

	repo := localRepo(filepath.Join(t.TempDir(), "missing"))
	_, err := factory.ForRepo(context.Background(), repo)
	require.Error(t, err)
}

func TestEnvTokenStore(t *testing.T) {
	t.Setenv("LANTERN_TEST_TOKEN", "ghp_secret")

	store := EnvTokenStore{}
	token, err := store.Token("LANTERN_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", token)

	token, err = store.Token("")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = store.Token("LANTERN_UNSET_TOKEN")
	require.Error(t, err)
}
