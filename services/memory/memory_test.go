// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
)

func TestAppendAndHistoryOrder(t *testing.T) {
	store := NewStore(10)

	require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, "first")))
	require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleAssistant, "second")))
	require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, "third")))

	history := store.History("s1", 0)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, "third", history[2].Content)
}

func TestAppendEvictsOldestPastCap(t *testing.T) {
	store := NewStore(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, fmt.Sprintf("turn %d", i))))
	}

	history := store.History("s1", 0)
	require.Len(t, history, 3)
	assert.Equal(t, "turn 3", history[0].Content)
	assert.Equal(t, "turn 5", history[2].Content)
}

func TestHistoryLimitReturnsMostRecent(t *testing.T) {
	store := NewStore(10)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, fmt.Sprintf("turn %d", i))))
	}

	history := store.History("s1", 2)
	require.Len(t, history, 2)
	assert.Equal(t, "turn 4", history[0].Content)
	assert.Equal(t, "turn 5", history[1].Content)
}

func TestHistoryReturnsCopy(t *testing.T) {
	store := NewStore(10)
	require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, "original")))

	history := store.History("s1", 0)
	history[0].Content = "mutated"

	assert.Equal(t, "original", store.History("s1", 0)[0].Content)
}

func TestUnknownSessionIsEmpty(t *testing.T) {
	store := NewStore(10)
	assert.Empty(t, store.History("nope", 0))
	assert.Zero(t, store.Len("nope"))
}

func TestClear(t *testing.T) {
	store := NewStore(10)
	require.NoError(t, store.Append("s1", datatypes.NewTurn(datatypes.RoleUser, "hello")))

	store.Clear("s1")
	assert.Empty(t, store.History("s1", 0))

	// Clearing twice is a no-op.
	store.Clear("s1")
}

func TestAppendRejectsEmptySessionID(t *testing.T) {
	store := NewStore(10)
	require.Error(t, store.Append("", datatypes.NewTurn(datatypes.RoleUser, "hello")))
}

func TestSessionsAreIsolated(t *testing.T) {
	store := NewStore(10)
	require.NoError(t, store.Append("a", datatypes.NewTurn(datatypes.RoleUser, "for a")))
	require.NoError(t, store.Append("b", datatypes.NewTurn(datatypes.RoleUser, "for b")))

	assert.Equal(t, "for a", store.History("a", 0)[0].Content)
	assert.Equal(t, "for b", store.History("b", 0)[0].Content)
	assert.ElementsMatch(t, []string{"a", "b"}, store.Sessions())
}

func TestConcurrentAppends(t *testing.T) {
	store := NewStore(1000)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = store.Append("shared", datatypes.NewTurn(datatypes.RoleUser, fmt.Sprintf("g%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 200, store.Len("shared"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersister(dir)
	require.NoError(t, err)
	store, err := NewStore(10).WithPersistence(p)
	require.NoError(t, err)

	require.NoError(t, store.Append("sess_abc", datatypes.NewTurn(datatypes.RoleUser, "hello")))
	require.NoError(t, store.Append("sess_abc", datatypes.NewTurn(datatypes.RoleAssistant, "hi there")))

	// A fresh store restores from the same directory.
	p2, err := NewPersister(dir)
	require.NoError(t, err)
	restored, err := NewStore(10).WithPersistence(p2)
	require.NoError(t, err)

	history := restored.History("sess_abc", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "hi there", history[1].Content)
}

func TestPersistenceRestoreTrimsToCap(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersister(dir)
	require.NoError(t, err)
	store, err := NewStore(10).WithPersistence(p)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		require.NoError(t, store.Append("s", datatypes.NewTurn(datatypes.RoleUser, fmt.Sprintf("turn %d", i))))
	}

	p2, err := NewPersister(dir)
	require.NoError(t, err)
	small, err := NewStore(3).WithPersistence(p2)
	require.NoError(t, err)

	history := small.History("s", 0)
	require.Len(t, history, 3)
	assert.Equal(t, "turn 4", history[0].Content)
}

func TestPersistenceClearRemovesFile(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersister(dir)
	require.NoError(t, err)
	store, err := NewStore(10).WithPersistence(p)
	require.NoError(t, err)
	require.NoError(t, store.Append("gone", datatypes.NewTurn(datatypes.RoleUser, "bye")))

	store.Clear("gone")

	p2, err := NewPersister(dir)
	require.NoError(t, err)
	restored, err := NewStore(10).WithPersistence(p2)
	require.NoError(t, err)
	assert.Empty(t, restored.History("gone", 0))
}
