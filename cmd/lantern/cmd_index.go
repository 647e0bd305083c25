// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/services/corpus"
	"github.com/lanternai/lantern/services/datatypes"
)

func runIndex(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine(nil)
	if err != nil {
		return err
	}
	repo, err := resolveRepo()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	build := func() error {
		ix, berr := eng.builder.BuildOrLoad(ctx, repo)
		if berr != nil {
			return berr
		}
		count, lerr := ix.Len(ctx)
		if lerr != nil {
			return lerr
		}
		fmt.Printf("indexed %s: %d chunks (embedder %s)\n", repo.Slug(), count, eng.embedder.Model())
		return nil
	}
	if err := build(); err != nil {
		return err
	}

	if !watchTree {
		return nil
	}

	watcher, err := corpus.NewWatcher(eng.builder, repo)
	if err != nil {
		return err
	}
	watcher.OnInvalidate = func() {
		if berr := build(); berr != nil {
			fmt.Printf("rebuild failed: %v\n", berr)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", repo.LocalPath)
	watcher.Run(ctx)
	return nil
}

// resolveRepo builds the repository context from the shared flags.
func resolveRepo() (datatypes.RepositoryContext, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return datatypes.RepositoryContext{}, fmt.Errorf("resolving --path: %w", err)
	}
	return datatypes.RepositoryContext{
		Owner:     repoOwner,
		Repo:      repoName,
		Platform:  "local",
		LocalPath: abs,
	}, nil
}
