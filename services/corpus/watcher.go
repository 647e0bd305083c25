// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lanternai/lantern/services/datatypes"
)

// watchDebounce coalesces bursts of file events (editor saves, git
// checkouts) into one invalidation.
const watchDebounce = 2 * time.Second

// Watcher invalidates a repository's cached index when its working
// tree changes.
type Watcher struct {
	builder *Builder
	repo    datatypes.RepositoryContext
	watcher *fsnotify.Watcher

	// OnInvalidate, when set, is called after each cache invalidation.
	OnInvalidate func()
}

// NewWatcher starts watching the repository's working tree. Directories
// are registered recursively; new directories are picked up as they
// appear.
func NewWatcher(builder *Builder, repo datatypes.RepositoryContext) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{builder: builder, repo: repo, watcher: fsw}
	if err := w.addRecursive(repo.LocalPath); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run processes events until ctx is canceled. It is intended to run in
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories need their own watch.
			if event.Op.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name); err != nil {
					slog.Debug("Could not watch new path", "path", event.Name, "error", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Corpus watcher error", "repo", w.repo.Slug(), "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			slog.Info("Working tree changed, invalidating index cache", "repo", w.repo.Slug())
			if err := w.builder.Invalidate(w.repo); err != nil {
				slog.Warn("Cache invalidation failed", "repo", w.repo.Slug(), "error", err)
			}
			if w.OnInvalidate != nil {
				w.OnInvalidate()
			}
		}
	}
}

// relevant filters events down to indexable content changes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if skippedDirs[base] {
		return false
	}
	// Directory events carry no extension; keep them so new
	// subtrees register.
	if filepath.Ext(base) == "" {
		return true
	}
	return indexableFile(event.Name)
}
