// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package corpus loads repository files, chunks them into documents,
// and builds per-repository vector indexes with a disk cache keyed by
// the repository fingerprint.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lanternai/lantern/services/datatypes"
)

var tracer = otel.Tracer("lantern.corpus")

// =============================================================================
// Loader Contracts
// =============================================================================

// RawDocument is one repository file before chunking. Path is
// repository-relative with forward slashes.
type RawDocument struct {
	Path    string
	Content string
}

// Loader materializes a repository's files. Implementations decide how
// the bytes arrive (local working tree, API download); the engine only
// consumes the result.
type Loader interface {
	Load(ctx context.Context, repo datatypes.RepositoryContext) ([]RawDocument, error)
}

// AuthTokenStore resolves a RepositoryContext.TokenRef to a credential.
// The engine never logs or persists resolved tokens.
type AuthTokenStore interface {
	Token(ref string) (string, error)
}

// EnvTokenStore resolves token refs as environment variable names.
type EnvTokenStore struct{}

// Token implements AuthTokenStore.
func (EnvTokenStore) Token(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	v := strings.TrimSpace(os.Getenv(ref))
	if v == "" {
		return "", fmt.Errorf("token ref %q: environment variable not set", ref)
	}
	return v, nil
}

// =============================================================================
// Directory Loader
// =============================================================================

// maxFileBytes skips files too large to chunk usefully.
const maxFileBytes = 1 << 20 // 1 MiB

// loadConcurrency bounds parallel file reads.
const loadConcurrency = 8

// textExtensions are the file types worth indexing. Binaries and lock
// files only pollute retrieval.
var textExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".cs": true, ".swift": true,
	".kt": true, ".scala": true, ".sh": true, ".sql": true,
	".md": true, ".txt": true, ".rst": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".proto": true, ".tf": true, ".Dockerfile": true,
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".venv": true, "__pycache__": true, "dist": true, "build": true,
	".idea": true, ".vscode": true,
}

// DirLoader loads a repository from its LocalPath working tree.
type DirLoader struct{}

var _ Loader = DirLoader{}

// Load implements Loader. Files are read concurrently; unreadable files
// are skipped with a warning rather than failing the whole corpus.
func (DirLoader) Load(ctx context.Context, repo datatypes.RepositoryContext) ([]RawDocument, error) {
	ctx, span := tracer.Start(ctx, "DirLoader.Load")
	defer span.End()
	span.SetAttributes(attribute.String("corpus.repo", repo.Slug()))

	root := repo.LocalPath
	if root == "" {
		return nil, fmt.Errorf("repository %s has no local path", repo.Slug())
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", repo.Slug(), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository %s: %s is not a directory", repo.Slug(), root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableFile(path) {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxFileBytes {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var (
		mu   sync.Mutex
		docs = make([]RawDocument, 0, len(paths))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("Skipping unreadable file", "path", path, "error", err)
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			mu.Lock()
			docs = append(docs, RawDocument{
				Path:    filepath.ToSlash(rel),
				Content: string(data),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("corpus.files", len(docs)))
	slog.Info("Loaded repository corpus", "repo", repo.Slug(), "files", len(docs))
	return docs, nil
}

func indexableFile(path string) bool {
	base := filepath.Base(path)
	if base == "Dockerfile" || base == "Makefile" {
		return true
	}
	return textExtensions[filepath.Ext(base)]
}
